package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omkar-codehub/sar-marine-backend/internal/service"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := service.NewMemoryQueue(4)

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))
	assert.Equal(t, 2, q.Len())

	id, err := q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = q.ClaimBlocking(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestMemoryQueue_ClaimTimesOut(t *testing.T) {
	q := service.NewMemoryQueue(1)

	_, err := q.ClaimBlocking(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, service.ErrQueueEmpty)
}

func TestMemoryQueue_ClaimHonoursContext(t *testing.T) {
	q := service.NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.ClaimBlocking(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueue_EnqueueNeverBlocks(t *testing.T) {
	ctx := context.Background()
	q := service.NewMemoryQueue(1)

	require.NoError(t, q.Enqueue(ctx, "a"))
	assert.ErrorIs(t, q.Enqueue(ctx, "b"), service.ErrQueueFull)
}
