package egauge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egaugemx/tarifador/pkg/common"
	"github.com/egaugemx/tarifador/pkg/tariff"
	"github.com/egaugemx/tarifador/pkg/types"
)

func TestURL(t *testing.T) {
	assert.Equal(t,
		"https://egauge123.egaug.es/cgi-bin/egauge-show?E&c&S&s=3600&n=1&f=1719887400&F=data.csv&C&Z=LST6",
		URL("egauge123.egaug.es", 1719887400, 3600),
	)
	assert.Equal(t,
		"https://egauge123.egaug.es/cgi-bin/egauge-show?E&c&S&s=900&n=1&f=1&F=data.csv&C&Z=LST6",
		URL("https://egauge123.egaug.es/", 1, 900),
	)
}

func TestHostname(t *testing.T) {
	assert.Equal(t, "egauge1.egaug.es", Hostname("https://egauge1.egaug.es/cgi-bin/egauge"))
	assert.Equal(t, "egauge1.egaug.es:8443", Hostname("http://egauge1.egaug.es:8443"))
	assert.Equal(t, "egauge1.egaug.es", Hostname("  egauge1.egaug.es/ "))
}

func TestTimestampRange(t *testing.T) {
	assert.Equal(t, []int64{0, 3600, 7200}, TimestampRange(0, 7200, 3600))
	assert.Equal(t, []int64{0, 3600}, TimestampRange(0, 7199, 3600))
	assert.Equal(t, []int64{10}, TimestampRange(10, 10, 3600))
	assert.Empty(t, TimestampRange(10, 9, 3600))
	assert.Empty(t, TimestampRange(0, 10, 0))
}

func meterServer(t *testing.T, fail map[int64]int) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cgi-bin/egauge-show", r.URL.Path)
		assert.Equal(t, "text/csv,application/csv", r.Header.Get("Accept"))
		ts, err := strconv.ParseInt(r.URL.Query().Get("f"), 10, 64)
		assert.NoError(t, err)
		if code, ok := fail[ts]; ok {
			w.WriteHeader(code)
			return
		}
		fmt.Fprintf(w, "Date & Time,Usage [kW],Generation [kW]\n%d,%d.5,0.25\n", ts, ts%86400/3600)
	}))
	t.Cleanup(srv.Close)
	return srv, NewClient(common.HTTPClientWithTransport(5*time.Second, srv.Client().Transport))
}

func TestClientFetch(t *testing.T) {
	srv, c := meterServer(t, map[int64]int{7200: http.StatusInternalServerError, 10800: http.StatusOK})
	host := srv.Listener.Addr().String()

	body, err := c.Fetch(context.Background(), host, 3600, 3600)
	require.NoError(t, err)
	assert.Contains(t, string(body), "3600,1.5,0.25")

	_, err = c.Fetch(context.Background(), host, 7200, 3600)
	assert.ErrorContains(t, err, "status: 500")

	_, err = c.Fetch(context.Background(), host, 10800, 3600)
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestDownload(t *testing.T) {
	loc, err := time.LoadLocation("America/Mexico_City")
	require.NoError(t, err)
	start := time.Date(2024, time.July, 1, 20, 0, 0, 0, loc)
	end := start.Add(3 * time.Hour)

	srv, c := meterServer(t, map[int64]int{start.Add(time.Hour).Unix(): http.StatusBadGateway})
	d := NewDownloader(c, 2, 3600)
	assert.Equal(t, 3600, d.Step())

	classifier, err := tariff.NewClassifier("America/Mexico_City", nil)
	require.NoError(t, err)

	client := types.Client{ID: "panaderia", URL: "https://" + srv.Listener.Addr().String() + "/"}
	res, err := d.Download(context.Background(), classifier, client, start, end)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, tariff.Counts{Total: 3, Resolved: 3}, res.Counts)
	require.Len(t, res.Readings, 3)

	assert.True(t, res.Readings[0].Timestamp.Equal(start))
	assert.Equal(t, types.PeriodPunta, res.Readings[0].Period)
	assert.Equal(t, types.PeriodIntermedio, res.Readings[1].Period)
	assert.Equal(t, types.PeriodIntermedio, res.Readings[2].Period)
	assert.Equal(t, 0.25, res.Readings[0].Values["Generation_[kW]"])
	assert.Contains(t, res.Readings[0].Values, "Usage_[kW]")
	assert.False(t, res.Readings[0].Degraded)

	t.Run("degraded", func(t *testing.T) {
		res, err := d.Download(context.Background(), tariff.Resolve("Nowhere/Land", nil), client, start, start)
		require.NoError(t, err)
		require.Len(t, res.Readings, 1)
		assert.True(t, res.Readings[0].Degraded)
		assert.Equal(t, 1, res.Counts.Degraded)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := d.Download(ctx, classifier, client, start, end)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("no hostname", func(t *testing.T) {
		_, err := d.Download(context.Background(), classifier, types.Client{ID: "x"}, start, end)
		assert.Error(t, err)
	})
}
