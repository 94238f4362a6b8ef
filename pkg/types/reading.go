package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reading is one stored meter row: every register column of an eGauge CSV
// line plus the period it was classified into.
type Reading struct {
	Timestamp time.Time          `json:"timestamp"`
	Period    Period             `json:"period"`
	Degraded  bool               `json:"degraded,omitempty"`
	Values    map[string]float64 `json:"values"`
}

// ReadingRecord is a single labeled value consumed by billing.
type ReadingRecord struct {
	Timestamp time.Time           `json:"timestamp"`
	Period    Period              `json:"period"`
	Value     decimal.NullDecimal `json:"value"`
}

// ReadingStats summarizes the stored readings of a client.
type ReadingStats struct {
	Count int       `json:"count"`
	First time.Time `json:"first"`
	Last  time.Time `json:"last"`
}
