// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/omkar-codehub/sar-marine-backend/internal/app"
	"github.com/omkar-codehub/sar-marine-backend/internal/config"
	"github.com/omkar-codehub/sar-marine-backend/internal/service"
)

// Standalone dispatch process. It drains the shared Redis queue against the
// shared store and runs the reaper; the HTTP API lives in cmd/server.
func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.LogLevel)

	if !cfg.Redis.Enabled() {
		return errors.New("missing env: REDIS_ADDR")
	}
	if cfg.Store.Driver == config.StoreMemory {
		return errors.New("STORE_DRIVER=memory cannot be shared with the server process")
	}

	store, err := app.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	queue, err := app.OpenQueue(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer func() { _ = queue.Close() }()

	// submit здесь не вызывается, очередь нужна только для ApplyDispatchOutcome
	jobSvc := service.NewJobService(store.Jobs, store.Results, queue, logger)
	pool := app.NewDispatchPool(cfg, jobSvc, queue, logger)
	reaper, err := app.NewReaper(cfg.Reaper, store.Jobs, logger)
	if err != nil {
		return err
	}

	logger.Info("worker started",
		"workers", cfg.Workers,
		"redis_addr", cfg.Redis.Addr,
		"queue_key", cfg.Redis.QueueKey,
		"processing_key", cfg.Redis.ProcessingKey,
		"store", cfg.Store.Driver,
		"worker_base_url", cfg.WorkerBaseURL,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	if reaper != nil {
		g.Go(func() error { return reaper.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("worker stopped")
	return err
}
