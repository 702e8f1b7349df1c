// Package memory keeps job and result records in process memory. It backs
// STORE_DRIVER=memory and the coordinator tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
	"github.com/omkar-codehub/sar-marine-backend/internal/repository"
)

type JobRepository struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]*entity.Job
	results *ResultRepository
	now     func() time.Time
}

// NewJobRepository links the job table to results so CompleteWithResult can
// update both under the job lock. results may be nil when no job completes
// with a result.
func NewJobRepository(results *ResultRepository) *JobRepository {
	return &JobRepository{
		jobs:    make(map[uuid.UUID]*entity.Job),
		results: results,
		now:     time.Now,
	}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return repository.ErrDuplicate
	}
	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneJob(j), nil
}

// Transition checks and mutates under one lock, which is the in-memory
// equivalent of UPDATE ... WHERE id = ? AND status IN (...).
func (r *JobRepository) Transition(ctx context.Context, id uuid.UUID, t entity.Transition) (*entity.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !t.Allows(j.Status) {
		return cloneJob(j), repository.ErrTransitionRejected
	}
	t.Apply(j, r.now())
	return cloneJob(j), nil
}

// CompleteWithResult applies t and stores res only if t is allowed. Lock
// order is jobs then results; ResultRepository never takes the job lock.
func (r *JobRepository) CompleteWithResult(ctx context.Context, id uuid.UUID, t entity.Transition, res *entity.DetectionResult) (*entity.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.results == nil {
		return nil, errors.New("memory job repository has no result repository")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !t.Allows(j.Status) {
		return cloneJob(j), repository.ErrTransitionRejected
	}
	if _, err := r.results.Save(ctx, res); err != nil {
		return nil, err
	}
	t.Apply(j, r.now())
	return cloneJob(j), nil
}

func (r *JobRepository) FailStale(ctx context.Context, olderThan time.Time, reason string, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = repository.ReaperBatchDefault
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stale := make([]*entity.Job, 0)
	tr := entity.TimedOut(reason)
	for _, j := range r.jobs {
		if tr.Allows(j.Status) && j.UpdatedAt.Before(olderThan) {
			stale = append(stale, j)
		}
	}
	// oldest first, same as the SQL stores
	sort.Slice(stale, func(a, b int) bool { return stale[a].UpdatedAt.Before(stale[b].UpdatedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}

	now := r.now()
	for _, j := range stale {
		tr.Apply(j, now)
	}
	return int64(len(stale)), nil
}

func cloneJob(j *entity.Job) *entity.Job {
	c := *j
	if j.DetectionsCount != nil {
		n := *j.DetectionsCount
		c.DetectionsCount = &n
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	return &c
}
