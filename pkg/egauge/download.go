package egauge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/egaugemx/tarifador/pkg/log"
	"github.com/egaugemx/tarifador/pkg/metrics"
	"github.com/egaugemx/tarifador/pkg/tariff"
	"github.com/egaugemx/tarifador/pkg/types"
)

// TimestampRange returns the epoch seconds from start to end inclusive in
// increments of step.
func TimestampRange(start, end int64, step int) []int64 {
	if step <= 0 || end < start {
		return nil
	}
	out := make([]int64, 0, (end-start)/int64(step)+1)
	for ts := start; ts <= end; ts += int64(step) {
		out = append(out, ts)
	}
	return out
}

// Result summarises a client download.
type Result struct {
	Readings []types.Reading `json:"-"`
	// Fetched and Failed count downloaded intervals.
	Fetched int           `json:"fetched"`
	Failed  int           `json:"failed"`
	Counts  tariff.Counts `json:"counts"`
}

// Downloader fetches a time range of exports concurrently.
type Downloader struct {
	client  *Client
	workers int
	step    int
}

// NewDownloader returns a Downloader running up to workers concurrent
// downloads of step seconds each.
func NewDownloader(client *Client, workers, step int) *Downloader {
	if workers < 1 {
		workers = 1
	}
	return &Downloader{client: client, workers: workers, step: step}
}

// Step returns the seconds covered by each download.
func (d *Downloader) Step() int {
	return d.step
}

// Download fetches every interval of [start, end] from the client's meter,
// classifies each export with c and merges the rows by timestamp. A failed
// interval is counted and skipped; only a canceled context fails the call.
func (d *Downloader) Download(ctx context.Context, c *tariff.Classifier, client types.Client, start, end time.Time) (Result, error) {
	host := client.Hostname
	if host == "" {
		host = Hostname(client.URL)
	}
	if host == "" {
		return Result{}, fmt.Errorf("client %s has no hostname", client.ID)
	}

	timestamps := TimestampRange(start.Unix(), end.Unix(), d.step)
	tables := make([]*Table, len(timestamps))

	var (
		mu     sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i, ts := range timestamps {
		g.Go(func() error {
			began := time.Now()
			table, err := d.fetch(gctx, host, ts)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				metrics.ObserveFetch(metrics.ResultError, time.Since(began))
				log.Ctx(ctx).WarnContext(
					ctx,
					"failed to download egauge interval",
					slog.String("clientID", client.ID),
					slog.Int64("ts", ts),
					slog.Any("error", err),
				)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			metrics.ObserveFetch(metrics.ResultSuccess, time.Since(began))
			tables[i] = &table
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, fmt.Errorf("download canceled: %w", err)
	}

	res := Result{Failed: failed}
	merged := map[int64]*types.Reading{}
	for _, table := range tables {
		if table == nil {
			continue
		}
		res.Fetched++
		batch := c.ClassifyMany(table.Timestamps())
		res.Counts.Merge(batch.Counts)
		for i, r := range batch.Results {
			if !r.OK() {
				continue
			}
			key := r.Local.UnixNano()
			reading, ok := merged[key]
			if !ok {
				reading = &types.Reading{
					Timestamp: r.Local.UTC(),
					Period:    r.Period,
					Degraded:  r.Kind == tariff.ResultDegraded,
					Values:    map[string]float64{},
				}
				merged[key] = reading
			}
			for col, v := range table.Rows[i].Values {
				reading.Values[col] = v
			}
		}
	}

	res.Readings = make([]types.Reading, 0, len(merged))
	for _, r := range merged {
		res.Readings = append(res.Readings, *r)
	}
	sort.Slice(res.Readings, func(i, j int) bool {
		return res.Readings[i].Timestamp.Before(res.Readings[j].Timestamp)
	})

	log.Ctx(ctx).InfoContext(
		ctx,
		"downloaded egauge readings",
		slog.String("clientID", client.ID),
		slog.Int("fetched", res.Fetched),
		slog.Int("failed", res.Failed),
		slog.Int("readings", len(res.Readings)),
		slog.Int("missing", res.Counts.Missing),
	)
	return res, nil
}

func (d *Downloader) fetch(ctx context.Context, host string, ts int64) (Table, error) {
	body, err := d.client.Fetch(ctx, host, ts, d.step)
	if err != nil {
		return Table{}, err
	}
	return ParseCSV(body)
}
