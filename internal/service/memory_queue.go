package service

import (
	"context"
	"time"
)

// MemoryQueue is the in-process Queue used when no Redis is configured.
// Ids are lost on restart; jobs left queued then need the reaper.
type MemoryQueue struct {
	ch chan string
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{ch: make(chan string, size)}
}

// Enqueue never blocks: submission must return in bounded time.
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case id := <-q.ch:
		return id, nil
	case <-timer:
		return "", ErrQueueEmpty
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Ack(ctx context.Context, jobID string) error { return nil }

// Heartbeat, Leave and RequeueStale are no-ops: nothing outlives the process.
func (q *MemoryQueue) Heartbeat(ctx context.Context) error { return nil }

func (q *MemoryQueue) Leave(ctx context.Context) error { return nil }

func (q *MemoryQueue) RequeueStale(ctx context.Context, max int64) (int64, error) { return 0, nil }

func (q *MemoryQueue) Len() int { return len(q.ch) }
