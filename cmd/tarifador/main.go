package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/levenlabs/go-lflag"

	"github.com/egaugemx/tarifador/pkg/common"
	"github.com/egaugemx/tarifador/pkg/egauge"
	"github.com/egaugemx/tarifador/pkg/log"
	"github.com/egaugemx/tarifador/pkg/metrics"
	"github.com/egaugemx/tarifador/pkg/server"
	"github.com/egaugemx/tarifador/pkg/storage"
	"github.com/egaugemx/tarifador/pkg/tariff"
)

func main() {
	// init packages
	c := tariff.Configured()
	d := egauge.Configured()
	s := storage.Configured()

	// init server
	srv := server.Configured(s, d, c)

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level := log.Configure()
	metrics.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log.Ctx(ctx).DebugContext(ctx, "logger configured", slog.String("level", level.String()))
	log.Ctx(ctx).InfoContext(ctx, "tarifador starting",
		slog.String("version", common.Version()),
		slog.String("timezone", c.Timezone()),
	)

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
		}
	}()

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
