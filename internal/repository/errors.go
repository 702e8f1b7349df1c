// Package repository holds the contract shared by the job and result stores.
package repository

import "errors"

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
	// ErrTransitionRejected means the record exists but its current status is
	// outside the transition's allowed source set.
	ErrTransitionRejected = errors.New("transition rejected")
)

// ReaperBatchDefault bounds one FailStale sweep when the caller passes no limit.
const ReaperBatchDefault = 100
