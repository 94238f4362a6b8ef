package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/egaugemx/tarifador/pkg/egauge"
	"github.com/egaugemx/tarifador/pkg/log"
	"github.com/egaugemx/tarifador/pkg/storage"
	"github.com/egaugemx/tarifador/pkg/types"
)

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	activeOnly := r.URL.Query().Get("active") == "true"
	clients, err := s.storage.ListClients(ctx, activeOnly)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list clients", slog.Any("error", err))
		writeJSONError(w, "failed to list clients", http.StatusInternalServerError)
		return
	}
	if clients == nil {
		clients = []types.Client{}
	}
	writeJSON(w, clients)
}

type importClientsRequest struct {
	// Text holds "Nombre | URL" lines.
	Text string `json:"text"`
	// CSV holds a file with nombre and url columns.
	CSV string `json:"csv"`
}

type importClientsResponse struct {
	Parsed  int `json:"parsed"`
	Created int `json:"created"`
	Updated int `json:"updated"`
}

func (s *Server) handleImportClients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req importClientsRequest
	r.Body = http.MaxBytesReader(w, r.Body, 4<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var clients []types.Client
	switch {
	case strings.TrimSpace(req.CSV) != "":
		var err error
		clients, err = egauge.ParseClientCSV(strings.NewReader(req.CSV))
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	case strings.TrimSpace(req.Text) != "":
		clients = egauge.ParseClientList(req.Text)
	}
	if len(clients) == 0 {
		writeJSONError(w, "no clients found", http.StatusBadRequest)
		return
	}

	created, updated, err := s.storage.UpsertClients(ctx, clients)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to upsert clients", slog.Any("error", err))
		writeJSONError(w, "failed to save clients", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "imported clients", slog.Int("created", created), slog.Int("updated", updated))
	writeJSON(w, importClientsResponse{Parsed: len(clients), Created: created, Updated: updated})
}

func (s *Server) handleSetClientActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		ClientID string `json:"clientID"`
		Active   bool   `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID == "" {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.storage.SetClientActive(ctx, req.ClientID, req.Active); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to update client", slog.String("clientID", req.ClientID), slog.Any("error", err))
		writeJSONError(w, "failed to update client", storageErrorCode(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBulkClients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Action types.ClientBulkAction `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.Action {
	case types.ClientBulkActivateAll, types.ClientBulkDeactivateAll, types.ClientBulkDeleteInactive:
	default:
		writeJSONError(w, "unknown action", http.StatusBadRequest)
		return
	}

	n, err := s.storage.BulkClientAction(ctx, req.Action)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "bulk client action failed", slog.String("action", string(req.Action)), slog.Any("error", err))
		writeJSONError(w, "bulk action failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, struct {
		Affected int `json:"affected"`
	}{Affected: n})
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientID := r.PathValue("id")
	if err := s.storage.DeleteClient(ctx, clientID); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			writeJSONError(w, "client not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to delete client", slog.String("clientID", clientID), slog.Any("error", err))
		writeJSONError(w, "failed to delete client", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
