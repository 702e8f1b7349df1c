package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DetectionType is the closed set of detection kinds the worker can run.
type DetectionType string

const (
	TypeShip     DetectionType = "ship"
	TypeOilSpill DetectionType = "oilspill"
)

var detectionTypes = []DetectionType{TypeShip, TypeOilSpill}

func ParseDetectionType(s string) (DetectionType, bool) {
	for _, t := range detectionTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// ProducesDetections reports whether a successful run yields a list of
// discrete detections. Oil spill runs produce a single mask instead.
func (t DetectionType) ProducesDetections() bool {
	return t == TypeShip
}

// Label is the human name used in API messages.
func (t DetectionType) Label() string {
	switch t {
	case TypeShip:
		return "Ship"
	case TypeOilSpill:
		return "Oil spill"
	default:
		return string(t)
	}
}

// DetectionResult is written once per completed detection-producing job.
// Detections is kept verbatim: its element shape belongs to the worker.
type DetectionResult struct {
	JobID      uuid.UUID       `json:"jobId"`
	ImageID    string          `json:"imageId"`
	Type       DetectionType   `json:"type"`
	Detections json.RawMessage `json:"detections"`
	CreatedAt  time.Time       `json:"createdAt"`
}
