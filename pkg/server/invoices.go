package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/egaugemx/tarifador/pkg/billing"
	"github.com/egaugemx/tarifador/pkg/log"
	"github.com/egaugemx/tarifador/pkg/metrics"
	"github.com/egaugemx/tarifador/pkg/storage"
	"github.com/egaugemx/tarifador/pkg/types"
)

type createInvoiceRequest struct {
	ClientIDs []string `json:"clientIDs"`
	Column    string   `json:"column"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	// Schedule overrides fields of the configured rate schedule.
	Schedule json.RawMessage `json:"schedule"`
}

// handleCreateInvoice bills the stored readings of one or more clients over
// a date range and saves the invoice.
func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.ClientIDs) == 0 {
		writeJSONError(w, "clientIDs required", http.StatusBadRequest)
		return
	}
	if req.Column == "" {
		writeJSONError(w, "column required", http.StatusBadRequest)
		return
	}
	from, to, start, end, err := s.dateRange(req.Start, req.End)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	schedule := s.schedule
	if len(req.Schedule) > 0 {
		if err := json.Unmarshal(req.Schedule, &schedule); err != nil {
			writeJSONError(w, "invalid schedule", http.StatusBadRequest)
			return
		}
	}

	var readings []types.Reading
	for _, clientID := range req.ClientIDs {
		rs, err := s.storage.GetReadings(ctx, clientID, start, end)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to get readings", slog.String("clientID", clientID), slog.Any("error", err))
			writeJSONError(w, "failed to get readings", storageErrorCode(err))
			return
		}
		readings = append(readings, rs...)
	}

	began := s.now()
	inv, err := billing.ComputeInvoice(billing.RecordsFor(readings, req.Column), schedule, billing.PeriodDays(from, to))
	if err != nil {
		metrics.ObserveInvoice(metrics.ResultError, s.now().Sub(began))
		var scheduleErr *billing.ScheduleError
		var periodErr *billing.InvalidPeriodError
		if errors.As(err, &scheduleErr) || errors.As(err, &periodErr) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to compute invoice", slog.Any("error", err))
		writeJSONError(w, "failed to compute invoice", http.StatusInternalServerError)
		return
	}
	metrics.ObserveInvoice(metrics.ResultSuccess, s.now().Sub(began))

	inv.ID = s.newID()
	inv.ClientIDs = req.ClientIDs
	inv.Column = req.Column
	inv.Start = from
	inv.End = to
	inv.CreatedAt = s.now().UTC()
	if err := s.storage.SaveInvoice(ctx, inv); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save invoice", slog.Any("error", err))
		writeJSONError(w, "failed to save invoice", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "created invoice",
		slog.String("invoiceID", inv.ID),
		slog.Int("readings", inv.Readings),
		slog.Int("excluded", inv.Excluded),
		slog.String("total", inv.Total.StringFixed(2)),
	)
	writeJSONCode(w, http.StatusCreated, inv)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := s.storage.GetInvoice(ctx, r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, storage.ErrInvoiceNotFound) {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get invoice", slog.Any("error", err))
		}
		writeJSONError(w, "failed to get invoice", storageErrorCode(err))
		return
	}
	writeJSON(w, inv)
}

// receiptName joins the names of the billed clients, falling back to their
// IDs.
func (s *Server) receiptName(r *http.Request, inv types.Invoice) string {
	ctx := r.Context()
	names := make([]string, 0, len(inv.ClientIDs))
	for _, id := range inv.ClientIDs {
		c, err := s.storage.GetClient(ctx, id)
		if err != nil || c.Name == "" {
			names = append(names, id)
			continue
		}
		names = append(names, c.Name)
	}
	return strings.Join(names, ", ")
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pdf"
	}
	if format != "pdf" && format != "xlsx" {
		writeJSONError(w, "format must be pdf or xlsx", http.StatusBadRequest)
		return
	}

	inv, err := s.storage.GetInvoice(ctx, r.PathValue("id"))
	if err != nil {
		if !errors.Is(err, storage.ErrInvoiceNotFound) {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get invoice", slog.Any("error", err))
		}
		writeJSONError(w, "failed to get invoice", storageErrorCode(err))
		return
	}
	name := s.receiptName(r, inv)

	began := s.now()
	var (
		b           []byte
		contentType string
	)
	switch format {
	case "pdf":
		b, err = billing.RenderPDF(inv, name)
		contentType = "application/pdf"
	case "xlsx":
		b, err = billing.RenderXLSX(inv, name)
		contentType = xlsxContentType
	}
	if err != nil {
		metrics.ObserveReceipt(format, metrics.ResultError, s.now().Sub(began))
		log.Ctx(ctx).ErrorContext(ctx, "failed to render receipt", slog.String("format", format), slog.Any("error", err))
		writeJSONError(w, "failed to render receipt", http.StatusInternalServerError)
		return
	}
	metrics.ObserveReceipt(format, metrics.ResultSuccess, s.now().Sub(began))
	writeFile(w, contentType, fmt.Sprintf("recibo_%s.%s", inv.ID, format), b)
}
