package worker

//go:generate mockgen -source=processor.go -destination=../mocks/mock_worker.go -package=mocks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/omkar-codehub/sar-marine-backend/internal/dispatch"
	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
	"github.com/omkar-codehub/sar-marine-backend/internal/service"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) error
}

// Coordinator is the part of service.JobService the processor drives.
type Coordinator interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ApplyDispatchOutcome(ctx context.Context, id uuid.UUID, dispatchErr error) error
}

// Processor is the asynchronous dispatch continuation: one start request per
// queued job, then one status update with the outcome.
type Processor struct {
	jobs        Coordinator
	dispatcher  Dispatcher
	callbackURL string
	logger      *slog.Logger
}

func NewProcessor(jobs Coordinator, dispatcher Dispatcher, callbackURL string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		jobs:        jobs,
		dispatcher:  dispatcher,
		callbackURL: callbackURL,
		logger:      logger.With("component", "dispatch_processor"),
	}
}

// Process returns context.Canceled when shutdown interrupted the dispatch; the
// job is left queued and the id must not be acked.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	start := time.Now()

	id, err := uuid.Parse(jobID)
	if err != nil {
		p.logger.ErrorContext(ctx, "bad job id in queue", "job_id", jobID, "error", err)
		return err
	}

	job, err := p.jobs.GetStatus(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrUnknownJob) {
			p.logger.WarnContext(ctx, "queued id has no job record", "job_id", jobID)
		}
		return err
	}

	// callback мог прийти раньше, чем мы добрались до dispatch (или job уже отдали раньше)
	if job.Status != entity.StatusQueued {
		p.logger.InfoContext(ctx, "skip dispatch", "job_id", jobID, "status", job.Status)
		return nil
	}

	dispatchErr := p.dispatcher.Dispatch(ctx, dispatch.Request{
		Type:        string(job.Type),
		ImageID:     job.ImageID,
		JobID:       job.ID.String(),
		CallbackURL: p.callbackURL,
	})
	if dispatchErr != nil && ctx.Err() != nil {
		p.logger.InfoContext(ctx, "dispatch interrupted by shutdown", "job_id", jobID)
		return ctx.Err()
	}

	// worker уже ответил: исход записываем даже если shutdown начался после ответа
	if err := p.jobs.ApplyDispatchOutcome(context.WithoutCancel(ctx), id, dispatchErr); err != nil {
		p.logger.ErrorContext(ctx, "record dispatch outcome", "job_id", jobID, "error", err)
		return err
	}

	p.logger.InfoContext(ctx, "dispatch done",
		"job_id", jobID,
		"type", job.Type,
		"accepted", dispatchErr == nil,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return dispatchErr
}
