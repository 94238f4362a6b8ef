package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/levenlabs/go-lflag"
	"github.com/schollz/progressbar/v3"

	"github.com/egaugemx/tarifador/pkg/egauge"
	"github.com/egaugemx/tarifador/pkg/log"
	"github.com/egaugemx/tarifador/pkg/storage"
	"github.com/egaugemx/tarifador/pkg/tariff"
	"github.com/egaugemx/tarifador/pkg/types"
)

type downloader interface {
	Download(ctx context.Context, c *tariff.Classifier, client types.Client, start, end time.Time) (egauge.Result, error)
	Step() int
}

type summary struct {
	Succeeded []string
	Failed    map[string]error
	Readings  int
	Counts    tariff.Counts
}

// backfill downloads [from, to] for each client and stores the readings. A
// client that fails is recorded and the rest continue.
func backfill(ctx context.Context, db storage.Database, d downloader, c *tariff.Classifier, clients []types.Client, from, to types.Date, bar *progressbar.ProgressBar) summary {
	sum := summary{Failed: map[string]error{}}
	loc := c.Location()
	start := from.In(loc)
	end := to.In(loc).AddDate(0, 0, 1).Add(-time.Duration(d.Step()) * time.Second)

	for _, client := range clients {
		if ctx.Err() != nil {
			sum.Failed[client.ID] = ctx.Err()
			continue
		}
		bar.Describe(client.Name)

		res, err := d.Download(ctx, c, client, start, end)
		if err == nil && len(res.Readings) > 0 {
			err = db.UpsertReadings(ctx, client.ID, res.Readings)
		}
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "backfill failed", slog.String("clientID", client.ID), slog.Any("error", err))
			sum.Failed[client.ID] = err
		} else {
			sum.Succeeded = append(sum.Succeeded, client.ID)
			sum.Readings += len(res.Readings)
			sum.Counts.Merge(res.Counts)
		}
		_ = bar.Add(1)
	}
	return sum
}

func (s summary) print(w io.Writer) {
	fmt.Fprintf(w, "\nclientes correctos: %d, con error: %d, lecturas: %d\n", len(s.Succeeded), len(s.Failed), s.Readings)
	fmt.Fprintf(w, "resueltas: %d, degradadas: %d, sin periodo: %d\n", s.Counts.Resolved, s.Counts.Degraded, s.Counts.Missing)
	for id, err := range s.Failed {
		fmt.Fprintf(w, "  %s: %v\n", id, err)
	}
}

func main() {
	c := tariff.Configured()
	d := egauge.Configured()
	s := storage.Configured()

	startFlag := lflag.RequiredString("start", "First day to download (YYYY-MM-DD)")
	endFlag := lflag.RequiredString("end", "Last day to download (YYYY-MM-DD)")
	clientFlag := lflag.String("client", "", "Only backfill this client ID")

	lflag.Configure()
	log.Configure()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer s.Close()

	from, err := types.ParseDate(*startFlag)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid start", slog.Any("error", err))
		os.Exit(1)
	}
	to, err := types.ParseDate(*endFlag)
	if err != nil || to.Before(from) {
		log.Ctx(ctx).ErrorContext(ctx, "invalid end", slog.String("end", *endFlag), slog.Any("error", err))
		os.Exit(1)
	}

	var clients []types.Client
	if *clientFlag != "" {
		client, err := s.GetClient(ctx, *clientFlag)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to get client", slog.Any("error", err))
			os.Exit(1)
		}
		clients = []types.Client{client}
	} else {
		clients, err = s.ListClients(ctx, true)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to list clients", slog.Any("error", err))
			os.Exit(1)
		}
	}

	bar := progressbar.Default(int64(len(clients)))
	sum := backfill(ctx, s, d, c, clients, from, to, bar)
	sum.print(os.Stdout)
	if len(sum.Failed) > 0 {
		os.Exit(1)
	}
}
