package postgresql

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
)

type ResultRepository struct {
	pool *pgxpool.Pool
}

func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

func (r *ResultRepository) ListByImage(ctx context.Context, imageID string, typ entity.DetectionType) ([]entity.DetectionResult, error) {
	const q = `
SELECT job_id, image_id, type, detections, created_at
FROM detection_results
WHERE image_id = $1 AND type = $2
ORDER BY created_at, id;
`
	rows, err := r.pool.Query(ctx, q, imageID, string(typ))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]entity.DetectionResult, 0)
	for rows.Next() {
		var (
			res        entity.DetectionResult
			typeText   string
			detections []byte
		)
		if err := rows.Scan(&res.JobID, &res.ImageID, &typeText, &detections, &res.CreatedAt); err != nil {
			return nil, err
		}
		res.Type = entity.DetectionType(typeText)
		res.Detections = json.RawMessage(detections)
		res.CreatedAt = res.CreatedAt.UTC()
		out = append(out, res)
	}
	return out, rows.Err()
}
