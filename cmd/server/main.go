// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/omkar-codehub/sar-marine-backend/docs"
	"github.com/omkar-codehub/sar-marine-backend/internal/app"
	"github.com/omkar-codehub/sar-marine-backend/internal/config"
	"github.com/omkar-codehub/sar-marine-backend/internal/service"
	httptransport "github.com/omkar-codehub/sar-marine-backend/internal/transport/http"
)

const shutdownTimeout = 15 * time.Second

// @title SAR marine detection API
// @version 1.0
// @description Submits ship and oil spill detection jobs to the inference worker and tracks their status.
// @BasePath /
func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
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

	// DI
	jobSvc := service.NewJobService(store.Jobs, store.Results, queue, logger)
	pool := app.NewDispatchPool(cfg, jobSvc, queue, logger)
	reaper, err := app.NewReaper(cfg.Reaper, store.Jobs, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(httptransport.NewHandler(jobSvc, logger), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server starting",
		"addr", cfg.HTTPAddr,
		"public_base_url", cfg.PublicBaseURL,
		"worker_base_url", cfg.WorkerBaseURL,
		"workers", cfg.Workers,
		"run_dispatch", cfg.RunDispatch,
		"store", cfg.Store.Driver,
		"reaper", cfg.Reaper.Enabled(),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.RunDispatch {
		g.Go(func() error { return pool.Run(gctx) })
	}

	if reaper != nil {
		g.Go(func() error { return reaper.Run(gctx) })
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}
