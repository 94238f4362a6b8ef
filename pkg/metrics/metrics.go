package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "tarifador_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	classifications *prometheus.CounterVec

	fetchTotal   *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	invoiceTotal   *prometheus.CounterVec
	invoiceLatency *prometheus.HistogramVec

	receiptTotal   *prometheus.CounterVec
	receiptLatency *prometheus.HistogramVec
)

// Init registers the metrics with the default registry. It is safe to call
// more than once.
func Init() {
	registerOnce.Do(func() {
		classifications = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "classifications_total",
				Help: "Total classified timestamps by result kind",
			},
			[]string{"kind"},
		)

		fetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "egauge_fetch_total",
				Help: "Total eGauge CSV downloads by result",
			},
			[]string{"result"},
		)
		fetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "egauge_fetch_latency_seconds",
				Help:    "eGauge CSV download latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		invoiceTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_compute_total",
				Help: "Total invoice computations by result",
			},
			[]string{"result"},
		)
		invoiceLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "invoice_compute_latency_seconds",
				Help:    "Invoice computation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		receiptTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "receipt_render_total",
				Help: "Total receipt renders by format and result",
			},
			[]string{"format", "result"},
		)
		receiptLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "receipt_render_latency_seconds",
				Help:    "Receipt render latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			classifications,
			fetchTotal,
			fetchLatency,
			invoiceTotal,
			invoiceLatency,
			receiptTotal,
			receiptLatency,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AddClassifications adds n timestamps classified with kind.
func AddClassifications(kind string, n int) {
	if n <= 0 {
		return
	}
	if classifications != nil {
		classifications.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveFetch records an eGauge download.
func ObserveFetch(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if fetchTotal != nil {
		fetchTotal.WithLabelValues(result).Inc()
	}
	if fetchLatency != nil {
		fetchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveInvoice records an invoice computation.
func ObserveInvoice(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if invoiceTotal != nil {
		invoiceTotal.WithLabelValues(result).Inc()
	}
	if invoiceLatency != nil {
		invoiceLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveReceipt records a receipt render.
func ObserveReceipt(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if receiptTotal != nil {
		receiptTotal.WithLabelValues(format, result).Inc()
	}
	if receiptLatency != nil {
		receiptLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}
