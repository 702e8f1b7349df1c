package service

import "errors"

var (
	// ErrInvalidRequest marks malformed submissions and callbacks. Nothing is persisted.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownJob marks a status query or callback for a job id we never stored.
	ErrUnknownJob = errors.New("unknown job")

	ErrQueueEmpty = errors.New("queue empty")
	ErrQueueFull  = errors.New("queue full")
)
