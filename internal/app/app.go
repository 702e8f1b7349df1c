package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/omkar-codehub/sar-marine-backend/internal/config"
	"github.com/omkar-codehub/sar-marine-backend/internal/dispatch"
	"github.com/omkar-codehub/sar-marine-backend/internal/repository/memory"
	"github.com/omkar-codehub/sar-marine-backend/internal/repository/postgresql"
	"github.com/omkar-codehub/sar-marine-backend/internal/repository/sqlite"
	"github.com/omkar-codehub/sar-marine-backend/internal/service"
	"github.com/omkar-codehub/sar-marine-backend/internal/worker"
)

const memoryQueueSize = 4096

// NewLogger builds the process-wide JSON logger.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

type JobStore interface {
	service.JobRepository
	worker.StaleJobRepository
}

// Store bundles the repositories of one backend.
type Store struct {
	Driver  config.StoreDriver
	Jobs    JobStore
	Results service.ResultRepository
	close   func() error
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("pg: %w", err)
		}
		if cfg.RunMigrations {
			if err := postgresql.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("pg migrate: %w", err)
			}
		}
		logger.Info("store opened", "driver", cfg.Driver, "dsn", config.RedactDSN(cfg.PostgresDSN))
		return &Store{
			Driver:  cfg.Driver,
			Jobs:    postgresql.NewJobRepository(pool),
			Results: postgresql.NewResultRepository(pool),
			close:   func() error { pool.Close(); return nil },
		}, nil

	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		if cfg.RunMigrations {
			if err := sqlite.Migrate(ctx, db); err != nil {
				_ = sqlite.Close(db)
				return nil, fmt.Errorf("sqlite migrate: %w", err)
			}
		}
		logger.Info("store opened", "driver", cfg.Driver, "path", cfg.SQLitePath)
		return &Store{
			Driver:  cfg.Driver,
			Jobs:    sqlite.NewJobRepository(db),
			Results: sqlite.NewResultRepository(db),
			close:   func() error { return sqlite.Close(db) },
		}, nil

	case config.StoreMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		results := memory.NewResultRepository()
		return &Store{
			Driver:  cfg.Driver,
			Jobs:    memory.NewJobRepository(results),
			Results: results,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// Queue is the dispatch queue together with its connection cleanup.
type Queue struct {
	service.Queue
	close func() error
}

func (q *Queue) Close() error {
	if q.close == nil {
		return nil
	}
	return q.close()
}

// OpenQueue returns the Redis queue when REDIS_ADDR is set and an in-process
// one otherwise. Only a Redis queue can be shared with a separate worker process.
func OpenQueue(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Queue, error) {
	if !cfg.Enabled() {
		logger.Info("dispatch queue", "backend", "memory", "size", memoryQueueSize)
		return &Queue{Queue: service.NewMemoryQueue(memoryQueueSize)}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	consumer := consumerID()
	logger.Info("dispatch queue", "backend", "redis", "addr", cfg.Addr, "queue_key", cfg.QueueKey, "processing_key", cfg.ProcessingKey, "consumer", consumer)
	return &Queue{
		Queue: service.NewRedisQueue(rdb, cfg.QueueKey, cfg.ProcessingKey, consumer),
		close: rdb.Close,
	}, nil
}

// consumerID is unique per process: host-pid-random.
func consumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

// NewDispatchPool wires the worker client, processor and pool.
func NewDispatchPool(cfg config.Config, jobs *service.JobService, queue service.Queue, logger *slog.Logger) *worker.Pool {
	client := dispatch.NewClient(cfg.WorkerBaseURL, cfg.DispatchTimeout)
	processor := worker.NewProcessor(jobs, client, dispatch.CallbackURL(cfg.PublicBaseURL), logger)
	return worker.NewPool(queue, processor, cfg.Workers, cfg.ClaimTimeout, logger)
}

// NewReaper returns nil when the job timeout is disabled.
func NewReaper(cfg config.ReaperConfig, jobs worker.StaleJobRepository, logger *slog.Logger) (*worker.Reaper, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	return worker.NewReaper(jobs, cfg.Schedule, cfg.JobTimeout, cfg.Batch, logger)
}
