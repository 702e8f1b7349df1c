package sqlite

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
)

type ResultRepository struct {
	db *gorm.DB
}

func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

func (r *ResultRepository) ListByImage(ctx context.Context, imageID string, typ entity.DetectionType) ([]entity.DetectionResult, error) {
	var models []resultModel
	if err := r.db.WithContext(ctx).
		Where("image_id = ? AND type = ?", imageID, string(typ)).
		Order("created_at, id").
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]entity.DetectionResult, 0, len(models))
	for _, m := range models {
		jobID, err := uuid.Parse(m.JobID)
		if err != nil {
			return nil, err
		}
		out = append(out, entity.DetectionResult{
			JobID:      jobID,
			ImageID:    m.ImageID,
			Type:       entity.DetectionType(m.Type),
			Detections: json.RawMessage(m.Detections),
			CreatedAt:  m.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func toResultModel(res *entity.DetectionResult) resultModel {
	detections := []byte(res.Detections)
	if len(detections) == 0 {
		detections = []byte(`[]`)
	}
	return resultModel{
		JobID:      res.JobID.String(),
		ImageID:    res.ImageID,
		Type:       string(res.Type),
		Detections: detections,
		CreatedAt:  res.CreatedAt,
	}
}
