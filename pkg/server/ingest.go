package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/egaugemx/tarifador/pkg/egauge"
	"github.com/egaugemx/tarifador/pkg/log"
)

type ingestRequest struct {
	ClientID string `json:"clientID"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type ingestResponse struct {
	ClientID string `json:"clientID"`
	Stored   int    `json:"stored"`
	egauge.Result
}

// handleIngest downloads a client's meter for every step in the requested
// days, classifies the readings and stores them.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	_, _, start, end, err := s.dateRange(req.Start, req.End)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx = log.WithAttrs(ctx, slog.String("clientID", req.ClientID))

	client, err := s.storage.GetClient(ctx, req.ClientID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get client", slog.Any("error", err))
		writeJSONError(w, "failed to get client", storageErrorCode(err))
		return
	}

	// the last download starts one step before midnight
	last := end.Add(-time.Duration(s.downloader.Step()) * time.Second)
	res, err := s.downloader.Download(ctx, s.classifier, client, start, last)
	if err != nil {
		if ctx.Err() != nil {
			log.Ctx(ctx).WarnContext(ctx, "ingest canceled", slog.Any("error", err))
			panic(http.ErrAbortHandler)
		}
		log.Ctx(ctx).ErrorContext(ctx, "download failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if len(res.Readings) > 0 {
		if err := s.storage.UpsertReadings(ctx, client.ID, res.Readings); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to store readings", slog.Any("error", err))
			writeJSONError(w, "failed to store readings", storageErrorCode(err))
			return
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "ingested readings",
		slog.Int("stored", len(res.Readings)),
		slog.Int("fetched", res.Fetched),
		slog.Int("failed", res.Failed),
	)
	writeJSON(w, ingestResponse{ClientID: client.ID, Stored: len(res.Readings), Result: res})
}
