package tariff

import (
	"time"

	"github.com/egaugemx/tarifador/pkg/metrics"
	"github.com/egaugemx/tarifador/pkg/types"
)

// Counts summarises a batch.
type Counts struct {
	Total     int `json:"total"`
	Resolved  int `json:"resolved"`
	Degraded  int `json:"degraded"`
	Missing   int `json:"missing"`
	Shifted   int `json:"shifted"`
	Ambiguous int `json:"ambiguous"`
	Invalid   int `json:"invalid"`
}

func (c *Counts) add(r Result) {
	c.Total++
	switch r.Kind {
	case ResultResolved:
		c.Resolved++
	case ResultDegraded:
		c.Degraded++
	default:
		c.Missing++
	}
	if r.Shifted {
		c.Shifted++
	}
	switch r.Reason {
	case ReasonAmbiguousLocalTime:
		c.Ambiguous++
	case ReasonInvalidTimestamp:
		c.Invalid++
	}
}

// Merge adds o to c.
func (c *Counts) Merge(o Counts) {
	c.Total += o.Total
	c.Resolved += o.Resolved
	c.Degraded += o.Degraded
	c.Missing += o.Missing
	c.Shifted += o.Shifted
	c.Ambiguous += o.Ambiguous
	c.Invalid += o.Invalid
}

// Batch holds results aligned with the input sequence.
type Batch struct {
	Results []Result `json:"results"`
	Counts  Counts   `json:"counts"`
}

// Labels returns the period of every result, PeriodNone where missing.
func (b Batch) Labels() []types.Period {
	out := make([]types.Period, len(b.Results))
	for i, r := range b.Results {
		out[i] = r.Period
	}
	return out
}

// ClassifyMany classifies every timestamp. A bad element yields a missing
// result at its position and never fails the batch.
func (c *Classifier) ClassifyMany(timestamps []Timestamp) Batch {
	type localized struct {
		t       time.Time
		shifted bool
		reason  Reason
	}
	locals := make([]localized, len(timestamps))
	years := map[int]struct{}{}
	for i, ts := range timestamps {
		t, shifted, reason := c.localize(ts)
		locals[i] = localized{t: t, shifted: shifted, reason: reason}
		if reason == ReasonNone {
			years[t.Year()] = struct{}{}
		}
	}
	for y := range years {
		c.summer(y)
	}

	b := Batch{Results: make([]Result, len(timestamps))}
	for i, l := range locals {
		r := missing(l.reason)
		if l.reason == ReasonNone {
			r = c.label(l.t, l.shifted)
		}
		b.Results[i] = r
		b.Counts.add(r)
	}
	metrics.AddClassifications(ResultResolved.String(), b.Counts.Resolved)
	metrics.AddClassifications(ResultDegraded.String(), b.Counts.Degraded)
	metrics.AddClassifications(ResultMissing.String(), b.Counts.Missing)
	return b
}

// ClassifyStrings parses and classifies every string. Unparseable strings
// yield missing results with ReasonInvalidTimestamp.
func (c *Classifier) ClassifyStrings(values []string) Batch {
	timestamps := make([]Timestamp, len(values))
	for i, v := range values {
		// a parse failure leaves the zero Timestamp, which is invalid
		timestamps[i], _ = ParseTimestamp(v)
	}
	return c.ClassifyMany(timestamps)
}
