package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
	"github.com/omkar-codehub/sar-marine-backend/internal/repository"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

const jobColumns = `id, type, image_id, status, detections_count, error, created_at, updated_at`

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	const q = `
INSERT INTO jobs (id, type, image_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, q, job.ID, string(job.Type), job.ImageID, string(job.Status), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Transition is one conditional UPDATE keyed by id, so concurrent callers
// for the same job cannot both win.
func (r *JobRepository) Transition(ctx context.Context, id uuid.UUID, t entity.Transition) (*entity.Job, error) {
	job, err := scanJob(r.pool.QueryRow(ctx, transitionQuery, transitionArgs(id, t)...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return r.rejected(ctx, id)
}

// CompleteWithResult runs the transition and the result insert in one
// transaction; the result is written only when the transition wins.
func (r *JobRepository) CompleteWithResult(ctx context.Context, id uuid.UUID, t entity.Transition, res *entity.DetectionResult) (*entity.Job, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	job, err := scanJob(tx.QueryRow(ctx, transitionQuery, transitionArgs(id, t)...))
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return r.rejected(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	detections := res.Detections
	if len(detections) == 0 {
		detections = json.RawMessage(`[]`)
	}
	const insert = `
INSERT INTO detection_results (job_id, image_id, type, detections)
VALUES ($1, $2, $3, $4)
ON CONFLICT (job_id) DO NOTHING;
`
	if _, err := tx.Exec(ctx, insert, res.JobID, res.ImageID, string(res.Type), detections); err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return job, nil
}

const transitionQuery = `
UPDATE jobs
SET status = $2, error = $3, detections_count = $4, updated_at = now()
WHERE id = $1 AND status = ANY($5)
RETURNING ` + jobColumns + `;`

func transitionArgs(id uuid.UUID, t entity.Transition) []any {
	return []any{id, string(t.To), t.Error, t.DetectionsCount, t.FromStatuses()}
}

// ничего не обновили: либо job нет, либо статус не подходит
func (r *JobRepository) rejected(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return current, repository.ErrTransitionRejected
}

func (r *JobRepository) FailStale(ctx context.Context, olderThan time.Time, reason string, limit int) (int64, error) {
	if limit <= 0 {
		limit = repository.ReaperBatchDefault
	}
	const q = `
WITH stale AS (
    SELECT id FROM jobs
    WHERE status IN ('queued', 'running') AND updated_at < $1
    ORDER BY updated_at
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
UPDATE jobs j
SET status = 'failed', error = $2, updated_at = now()
FROM stale
WHERE j.id = stale.id;
`
	tag, err := r.pool.Exec(ctx, q, olderThan, reason, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job        entity.Job
		typeText   string
		statusText string
	)
	if err := row.Scan(
		&job.ID,
		&typeText,
		&job.ImageID,
		&statusText,
		&job.DetectionsCount, // NULL => nil
		&job.Error,           // NULL => nil
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Type = entity.DetectionType(typeText)
	job.Status = entity.JobStatus(statusText)
	if !job.Status.Valid() {
		return nil, fmt.Errorf("job %s: unknown stored status %q", job.ID, statusText)
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}
