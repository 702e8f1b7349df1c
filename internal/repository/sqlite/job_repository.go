package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
	"github.com/omkar-codehub/sar-marine-backend/internal/repository"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	m := toJobModel(job)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repository.ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	var m jobModel
	if err := r.db.WithContext(ctx).Where("id = ?", id.String()).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return fromJobModel(m)
}

func (r *JobRepository) Transition(ctx context.Context, id uuid.UUID, t entity.Transition) (*entity.Job, error) {
	return r.transition(ctx, id, t, nil)
}

// CompleteWithResult stores res in the same transaction as t.
// Nothing is written when the transition is rejected.
func (r *JobRepository) CompleteWithResult(ctx context.Context, id uuid.UUID, t entity.Transition, res *entity.DetectionResult) (*entity.Job, error) {
	return r.transition(ctx, id, t, func(tx *gorm.DB) error {
		m := toResultModel(res)
		return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "job_id"}}, DoNothing: true}).
			Create(&m).Error
	})
}

// transition applies t and, when it wins, runs then inside the same transaction.
func (r *JobRepository) transition(ctx context.Context, id uuid.UUID, t entity.Transition, then func(tx *gorm.DB) error) (*entity.Job, error) {
	var (
		m        jobModel
		rejected bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&jobModel{}).
			Where("id = ? AND status IN ?", id.String(), t.FromStatuses()).
			Updates(map[string]any{
				"status":           string(t.To),
				"error":            t.Error,
				"detections_count": t.DetectionsCount,
				"updated_at":       time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		rejected = res.RowsAffected == 0
		if !rejected && then != nil {
			if err := then(tx); err != nil {
				return err
			}
		}
		return tx.Where("id = ?", id.String()).First(&m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	job, err := fromJobModel(m)
	if err != nil {
		return nil, err
	}
	if rejected {
		return job, repository.ErrTransitionRejected
	}
	return job, nil
}

func (r *JobRepository) FailStale(ctx context.Context, olderThan time.Time, reason string, limit int) (int64, error) {
	if limit <= 0 {
		limit = repository.ReaperBatchDefault
	}
	tr := entity.TimedOut(reason)

	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&jobModel{}).
			Where("status IN ? AND updated_at < ?", tr.FromStatuses(), olderThan.UTC()).
			Order("updated_at").
			Limit(limit).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.Model(&jobModel{}).
			Where("id IN ? AND status IN ?", ids, tr.FromStatuses()).
			Updates(map[string]any{
				"status":     string(tr.To),
				"error":      tr.Error,
				"updated_at": time.Now().UTC(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

func toJobModel(j *entity.Job) jobModel {
	return jobModel{
		ID:              j.ID.String(),
		Type:            string(j.Type),
		ImageID:         j.ImageID,
		Status:          string(j.Status),
		DetectionsCount: j.DetectionsCount,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt.UTC(),
		UpdatedAt:       j.UpdatedAt.UTC(),
	}
}

func fromJobModel(m jobModel) (*entity.Job, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	status := entity.JobStatus(m.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("job %s: unknown stored status %q", m.ID, m.Status)
	}
	return &entity.Job{
		ID:              id,
		Type:            entity.DetectionType(m.Type),
		ImageID:         m.ImageID,
		Status:          status,
		DetectionsCount: m.DetectionsCount,
		Error:           m.Error,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
	}, nil
}
