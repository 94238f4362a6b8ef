package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/egaugemx/tarifador/pkg/billing"
	"github.com/egaugemx/tarifador/pkg/log"
	"github.com/egaugemx/tarifador/pkg/metrics"
	"github.com/egaugemx/tarifador/pkg/types"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleReadingColumns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := r.URL.Query().Get("clientID")
	if clientID == "" {
		writeJSONError(w, "clientID required", http.StatusBadRequest)
		return
	}
	columns, err := s.storage.ReadingColumns(ctx, clientID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get reading columns", slog.String("clientID", clientID), slog.Any("error", err))
		writeJSONError(w, "failed to get reading columns", storageErrorCode(err))
		return
	}
	if columns == nil {
		columns = []string{}
	}
	writeJSON(w, columns)
}

func (s *Server) handleReadingStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := r.URL.Query().Get("clientID")
	if clientID == "" {
		writeJSONError(w, "clientID required", http.StatusBadRequest)
		return
	}
	stats, err := s.storage.ReadingStats(ctx, clientID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get reading stats", slog.String("clientID", clientID), slog.Any("error", err))
		writeJSONError(w, "failed to get reading stats", storageErrorCode(err))
		return
	}
	writeJSON(w, stats)
}

// handleExportReadings returns the stored readings of a client between two
// dates as a spreadsheet.
func (s *Server) handleExportReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	clientID := q.Get("clientID")
	if clientID == "" {
		writeJSONError(w, "clientID required", http.StatusBadRequest)
		return
	}
	from, to, start, end, err := s.dateRange(q.Get("start"), q.Get("end"))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	readings, err := s.storage.GetReadings(ctx, clientID, start, end)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get readings", slog.String("clientID", clientID), slog.Any("error", err))
		writeJSONError(w, "failed to get readings", storageErrorCode(err))
		return
	}
	columns, err := s.storage.ReadingColumns(ctx, clientID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get reading columns", slog.String("clientID", clientID), slog.Any("error", err))
		writeJSONError(w, "failed to get reading columns", storageErrorCode(err))
		return
	}

	began := s.now()
	b, err := billing.ExportReadings(readings, columns, s.classifier.Location())
	if err != nil {
		metrics.ObserveReceipt("readings", metrics.ResultError, s.now().Sub(began))
		log.Ctx(ctx).ErrorContext(ctx, "failed to export readings", slog.Any("error", err))
		writeJSONError(w, "failed to export readings", http.StatusInternalServerError)
		return
	}
	metrics.ObserveReceipt("readings", metrics.ResultSuccess, s.now().Sub(began))
	writeFile(w, xlsxContentType, exportFilename(clientID, from, to), b)
}

func exportFilename(clientID string, from, to types.Date) string {
	return fmt.Sprintf("%s_%s_%s.xlsx", clientID, from, to)
}
