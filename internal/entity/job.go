package entity

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether no further lifecycle transition may leave s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job is one detection request tracked from submission to its terminal state.
type Job struct {
	ID              uuid.UUID     `json:"jobId"`
	Type            DetectionType `json:"type"`
	ImageID         string        `json:"imageId"`
	Status          JobStatus     `json:"status"`
	DetectionsCount *int          `json:"detectionsCount"`
	Error           *string       `json:"error"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// NewJob returns a freshly queued job.
func NewJob(typ DetectionType, imageID string, now time.Time) *Job {
	now = now.UTC()
	return &Job{
		ID:        uuid.New(),
		Type:      typ,
		ImageID:   imageID,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition is a conditional status change: it applies only while the job
// is in one of From. Error and DetectionsCount replace the stored values.
type Transition struct {
	From            []JobStatus
	To              JobStatus
	Error           *string
	DetectionsCount *int
}

// Allows reports whether the transition may be applied to a job in status s.
func (t Transition) Allows(s JobStatus) bool {
	return slices.Contains(t.From, s)
}

// Apply mutates j in place. Callers must check Allows first.
func (t Transition) Apply(j *Job, now time.Time) {
	j.Status = t.To
	j.Error = t.Error
	j.DetectionsCount = t.DetectionsCount
	j.UpdatedAt = now.UTC()
}

// FromStatuses converts the source set into plain strings for SQL arguments.
func (t Transition) FromStatuses() []string {
	out := make([]string, 0, len(t.From))
	for _, s := range t.From {
		out = append(out, string(s))
	}
	return out
}

// DispatchAccepted moves a queued job to running once the worker acked the start request.
func DispatchAccepted() Transition {
	return Transition{From: []JobStatus{StatusQueued}, To: StatusRunning}
}

// DispatchFailed fails a job that never reached the worker.
func DispatchFailed(reason string) Transition {
	return Transition{From: []JobStatus{StatusQueued}, To: StatusFailed, Error: &reason}
}

// Completed finishes a job. The callback may overtake our own dispatch
// bookkeeping, so queued is a valid source as well.
func Completed(detectionsCount *int) Transition {
	return Transition{
		From:            []JobStatus{StatusQueued, StatusRunning},
		To:              StatusCompleted,
		DetectionsCount: detectionsCount,
	}
}

// Failed records a failure reported by the worker. A failed job accepts it
// again (last error wins); a completed one never does.
func Failed(reason string) Transition {
	return Transition{
		From:  []JobStatus{StatusQueued, StatusRunning, StatusFailed},
		To:    StatusFailed,
		Error: &reason,
	}
}

// TimedOut is used by the reaper for jobs whose callback never arrived.
func TimedOut(reason string) Transition {
	return Transition{
		From:  []JobStatus{StatusQueued, StatusRunning},
		To:    StatusFailed,
		Error: &reason,
	}
}
