package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
	"github.com/omkar-codehub/sar-marine-backend/internal/repository"
)

// DispatchFailedReason is stored on jobs the worker never accepted.
const DispatchFailedReason = "dispatch failed"

// Порт репозитория (реализации: postgresql, sqlite, memory)
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	Transition(ctx context.Context, id uuid.UUID, t entity.Transition) (*entity.Job, error)
	// CompleteWithResult applies t and stores res atomically; a rejected
	// transition stores nothing.
	CompleteWithResult(ctx context.Context, id uuid.UUID, t entity.Transition, res *entity.DetectionResult) (*entity.Job, error)
}

// ResultRepository is the read side; results are written by CompleteWithResult.
type ResultRepository interface {
	ListByImage(ctx context.Context, imageID string, typ entity.DetectionType) ([]entity.DetectionResult, error)
}

// Маленький порт очереди: сервису нужно только положить job id на dispatch.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
}

// JobService is the job lifecycle coordinator. It owns every status change
// of a job record: submission, dispatch outcome and worker callbacks.
type JobService struct {
	repo    JobRepository
	results ResultRepository
	queue   JobQueue
	logger  *slog.Logger
	now     func() time.Time
}

func NewJobService(repo JobRepository, results ResultRepository, queue JobQueue, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		repo:    repo,
		results: results,
		queue:   queue,
		logger:  logger.With("component", "job_service"),
		now:     time.Now,
	}
}

type SubmitResult struct {
	JobID    uuid.UUID
	Accepted bool
	Message  string
}

// SubmitJob validates and stores a queued job, then hands its id to the
// dispatch queue. It never waits for the worker.
func (s *JobService) SubmitJob(ctx context.Context, typ, imageID string) (SubmitResult, error) {
	t, ok := entity.ParseDetectionType(typ)
	if !ok {
		return SubmitResult{}, fmt.Errorf("%w: invalid type %q, use \"ship\" or \"oilspill\"", ErrInvalidRequest, typ)
	}
	imageID = strings.TrimSpace(imageID)
	if imageID == "" {
		return SubmitResult{}, fmt.Errorf("%w: image id required", ErrInvalidRequest)
	}

	job := entity.NewJob(t, imageID, s.now())
	if err := s.repo.Create(ctx, job); err != nil {
		return SubmitResult{}, fmt.Errorf("create job: %w", err)
	}

	s.logger.InfoContext(ctx, "job queued", "job_id", job.ID.String(), "type", t, "image_id", imageID)

	if err := s.queue.Enqueue(ctx, job.ID.String()); err != nil {
		// job уже сохранён: считаем это неудачным dispatch, клиент всё равно получает id
		s.logger.WarnContext(ctx, "enqueue dispatch failed", "job_id", job.ID.String(), "error", err)
		if applyErr := s.ApplyDispatchOutcome(ctx, job.ID, fmt.Errorf("enqueue: %w", err)); applyErr != nil {
			s.logger.ErrorContext(ctx, "mark job failed after enqueue error", "job_id", job.ID.String(), "error", applyErr)
		}
	}

	return SubmitResult{
		JobID:    job.ID,
		Accepted: true,
		Message:  t.Label() + " detection started",
	}, nil
}

// ApplyDispatchOutcome records whether the worker accepted the start request.
// dispatchErr == nil means accepted. Only queued jobs are affected: a missing
// or already advanced job is logged and left alone.
func (s *JobService) ApplyDispatchOutcome(ctx context.Context, id uuid.UUID, dispatchErr error) error {
	tr := entity.DispatchAccepted()
	if dispatchErr != nil {
		tr = entity.DispatchFailed(DispatchFailedReason)
	}

	job, err := s.repo.Transition(ctx, id, tr)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		s.logger.WarnContext(ctx, "dispatch outcome for missing job", "job_id", id.String())
		return nil
	case errors.Is(err, repository.ErrTransitionRejected):
		s.logger.InfoContext(ctx, "dispatch outcome ignored",
			"job_id", id.String(), "status", job.Status, "wanted", tr.To)
		return nil
	case err != nil:
		return fmt.Errorf("apply dispatch outcome: %w", err)
	}

	if dispatchErr != nil {
		s.logger.WarnContext(ctx, "dispatch failed", "job_id", id.String(), "status", job.Status, "error", dispatchErr)
	} else {
		s.logger.InfoContext(ctx, "dispatch accepted", "job_id", id.String(), "status", job.Status)
	}
	return nil
}

type CallbackRequest struct {
	JobID      uuid.UUID
	Type       string
	ImageID    string
	Detections json.RawMessage
	Error      *string
}

type CallbackOutcome string

const (
	OutcomeCompleted CallbackOutcome = "completed"
	OutcomeFailed    CallbackOutcome = "failed"
	// OutcomeIgnored: the job was already terminal, nothing changed.
	OutcomeIgnored CallbackOutcome = "ignored"
)

// HandleCallback reconciles a worker callback with the stored job.
//
// A completed job is final: later callbacks are ignored. A failed job only
// accepts another failure report (the newest error text wins).
func (s *JobService) HandleCallback(ctx context.Context, req CallbackRequest) (CallbackOutcome, error) {
	id := req.JobID.String()

	job, err := s.repo.GetByID(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.WarnContext(ctx, "callback for unknown job", "job_id", id, "type", req.Type, "image_id", req.ImageID)
			return "", ErrUnknownJob
		}
		return "", fmt.Errorf("get job: %w", err)
	}

	if (req.Type != "" && req.Type != string(job.Type)) || (req.ImageID != "" && req.ImageID != job.ImageID) {
		s.logger.WarnContext(ctx, "callback does not match job",
			"job_id", id,
			"type", job.Type, "callback_type", req.Type,
			"image_id", job.ImageID, "callback_image_id", req.ImageID,
		)
	}

	if job.Status == entity.StatusCompleted {
		s.logger.InfoContext(ctx, "callback for completed job ignored", "job_id", id)
		return OutcomeIgnored, nil
	}

	if reason := callbackError(req.Error); reason != "" {
		return s.transitionFromCallback(ctx, req.JobID, entity.Failed(reason), OutcomeFailed)
	}

	if job.Status == entity.StatusFailed {
		s.logger.InfoContext(ctx, "success callback for failed job ignored", "job_id", id)
		return OutcomeIgnored, nil
	}

	if !job.Type.ProducesDetections() {
		return s.transitionFromCallback(ctx, req.JobID, entity.Completed(nil), OutcomeCompleted)
	}

	entries, ok := detectionEntries(req.Detections)
	if !ok {
		s.logger.WarnContext(ctx, "callback without detections array", "job_id", id, "type", job.Type)
		return s.transitionFromCallback(ctx, req.JobID, entity.Completed(nil), OutcomeCompleted)
	}

	count := len(entries)
	res := &entity.DetectionResult{
		JobID:      job.ID,
		ImageID:    job.ImageID,
		Type:       job.Type,
		Detections: req.Detections,
		CreatedAt:  s.now().UTC(),
	}
	// результат пишется только вместе с победившим переходом в completed
	return s.applyCallback(ctx, req.JobID, OutcomeCompleted, func() (*entity.Job, error) {
		return s.repo.CompleteWithResult(ctx, req.JobID, entity.Completed(&count), res)
	})
}

func (s *JobService) transitionFromCallback(ctx context.Context, id uuid.UUID, tr entity.Transition, outcome CallbackOutcome) (CallbackOutcome, error) {
	return s.applyCallback(ctx, id, outcome, func() (*entity.Job, error) {
		return s.repo.Transition(ctx, id, tr)
	})
}

func (s *JobService) applyCallback(ctx context.Context, id uuid.UUID, outcome CallbackOutcome, apply func() (*entity.Job, error)) (CallbackOutcome, error) {
	job, err := apply()
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return "", ErrUnknownJob
	case errors.Is(err, repository.ErrTransitionRejected):
		// проиграли гонку с другим callback'ом
		s.logger.InfoContext(ctx, "callback lost race, ignored", "job_id", id.String(), "status", job.Status)
		return OutcomeIgnored, nil
	case err != nil:
		return "", fmt.Errorf("apply callback: %w", err)
	}

	attrs := []any{"job_id", id.String(), "type", job.Type, "status", job.Status}
	if job.DetectionsCount != nil {
		attrs = append(attrs, "detections_count", *job.DetectionsCount)
	}
	if job.Error != nil {
		attrs = append(attrs, "error", *job.Error)
	}
	s.logger.InfoContext(ctx, "callback applied", attrs...)
	return outcome, nil
}

// GetStatus returns the latest stored job record.
func (s *JobService) GetStatus(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownJob
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListResults is a read path over the result store for API clients.
func (s *JobService) ListResults(ctx context.Context, typ, imageID string) ([]entity.DetectionResult, error) {
	t, ok := entity.ParseDetectionType(typ)
	if !ok {
		return nil, fmt.Errorf("%w: invalid type %q, use \"ship\" or \"oilspill\"", ErrInvalidRequest, typ)
	}
	if strings.TrimSpace(imageID) == "" {
		return nil, fmt.Errorf("%w: image id required", ErrInvalidRequest)
	}
	if !t.ProducesDetections() {
		return []entity.DetectionResult{}, nil
	}
	return s.results.ListByImage(ctx, imageID, t)
}

func callbackError(e *string) string {
	if e == nil {
		return ""
	}
	return strings.TrimSpace(*e)
}

// detectionEntries reports whether raw is a JSON array and returns its elements.
func detectionEntries(raw json.RawMessage) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(trimmed, &entries); err != nil {
		return nil, false
	}
	return entries, true
}
