package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// TimedOutReason is stored on jobs failed by the reaper.
const TimedOutReason = "timed out waiting for callback"

type StaleJobRepository interface {
	FailStale(ctx context.Context, olderThan time.Time, reason string, limit int) (int64, error)
}

// Reaper fails queued or running jobs that saw no update for longer than the
// configured timeout. It runs on a cron schedule.
type Reaper struct {
	repo     StaleJobRepository
	schedule string
	timeout  time.Duration
	batch    int
	logger   *slog.Logger
	now      func() time.Time
}

func NewReaper(repo StaleJobRepository, schedule string, timeout time.Duration, batch int, logger *slog.Logger) (*Reaper, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("reaper timeout must be positive, got %s", timeout)
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("reaper schedule %q: %w", schedule, err)
	}
	if batch <= 0 {
		batch = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		repo:     repo,
		schedule: schedule,
		timeout:  timeout,
		batch:    batch,
		logger:   logger.With("component", "reaper"),
		now:      time.Now,
	}, nil
}

// RunOnce sweeps in batches until a batch comes back short.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.timeout)

	var total int64
	for {
		n, err := r.repo.FailStale(ctx, cutoff, TimedOutReason, r.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(r.batch) {
			return total, nil
		}
	}
}

func (r *Reaper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() {
		n, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.ErrorContext(ctx, "reap stale jobs", "error", err, "failed", n)
			return
		}
		if n > 0 {
			r.logger.InfoContext(ctx, "failed stale jobs", "count", n, "timeout", r.timeout.String())
		}
	}); err != nil {
		return fmt.Errorf("schedule reaper: %w", err)
	}

	r.logger.InfoContext(ctx, "reaper started", "schedule", r.schedule, "timeout", r.timeout.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reaper stopped")
	return nil
}
