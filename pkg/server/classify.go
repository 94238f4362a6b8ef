package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/egaugemx/tarifador/pkg/log"
	"github.com/egaugemx/tarifador/pkg/tariff"
	"github.com/egaugemx/tarifador/pkg/types"
)

// maxClassifyTimestamps bounds a single classify request.
const maxClassifyTimestamps = 100000

type classifyRequest struct {
	Timestamps []string `json:"timestamps"`
	Timezone   string   `json:"timezone"`
	Holidays   []string `json:"holidays"`
}

type classifyResponse struct {
	Timezone string          `json:"timezone"`
	Degraded string          `json:"degraded,omitempty"`
	Labels   []types.Period  `json:"labels"`
	Results  []tariff.Result `json:"results"`
	Counts   tariff.Counts   `json:"counts"`
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req classifyRequest
	r.Body = http.MaxBytesReader(w, r.Body, 16<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Timestamps) > maxClassifyTimestamps {
		writeJSONError(w, "too many timestamps", http.StatusBadRequest)
		return
	}

	c := s.classifier
	if tz := strings.TrimSpace(req.Timezone); tz != "" || len(req.Holidays) > 0 {
		holidays, err := types.ParseHolidays(req.Holidays)
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if tz == "" {
			tz = s.classifier.Timezone()
		}
		c = tariff.Resolve(tz, s.classifier.Holidays().Union(holidays))
		if err := c.Degraded(); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "classifying with naive wall clock", slog.String("timezone", tz), slog.Any("error", err))
		}
	}

	batch := c.ClassifyStrings(req.Timestamps)
	resp := classifyResponse{
		Timezone: c.Timezone(),
		Labels:   batch.Labels(),
		Results:  batch.Results,
		Counts:   batch.Counts,
	}
	if err := c.Degraded(); err != nil {
		resp.Degraded = err.Error()
	}
	writeJSON(w, resp)
}

type seasonResponse struct {
	Year     int       `json:"year"`
	Timezone string    `json:"timezone"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

func (s *Server) handleSeason(w http.ResponseWriter, r *http.Request) {
	year := s.now().In(s.classifier.Location()).Year()
	if v := r.URL.Query().Get("year"); v != "" {
		var err error
		year, err = strconv.Atoi(v)
		if err != nil || year < 1 || year > 9999 {
			writeJSONError(w, "invalid year", http.StatusBadRequest)
			return
		}
	}
	start, end := s.classifier.SummerBounds(year)
	writeJSON(w, seasonResponse{
		Year:     year,
		Timezone: s.classifier.Timezone(),
		Start:    start,
		End:      end,
	})
}
