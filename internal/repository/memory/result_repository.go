package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
)

type ResultRepository struct {
	mu      sync.RWMutex
	byJob   map[uuid.UUID]struct{}
	results []entity.DetectionResult
}

func NewResultRepository() *ResultRepository {
	return &ResultRepository{byJob: make(map[uuid.UUID]struct{})}
}

// Save stores res unless a result for the same job already exists.
func (r *ResultRepository) Save(ctx context.Context, res *entity.DetectionResult) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byJob[res.JobID]; ok {
		return false, nil
	}

	c := *res
	c.Detections = append(json.RawMessage(nil), res.Detections...)
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.byJob[res.JobID] = struct{}{}
	r.results = append(r.results, c)
	return true, nil
}

func (r *ResultRepository) ListByImage(ctx context.Context, imageID string, typ entity.DetectionType) ([]entity.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]entity.DetectionResult, 0)
	for _, res := range r.results {
		if res.ImageID == imageID && res.Type == typ {
			res.Detections = append(json.RawMessage(nil), res.Detections...)
			out = append(out, res)
		}
	}
	return out, nil
}

// Count is used by tests to assert result uniqueness.
func (r *ResultRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.results)
}
