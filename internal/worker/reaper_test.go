package worker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
	"github.com/omkar-codehub/sar-marine-backend/internal/repository/memory"
	"github.com/omkar-codehub/sar-marine-backend/internal/worker"
)

type batchRepo struct {
	counts    []int64
	err       error
	calls     int
	olderThan time.Time
	reason    string
}

func (r *batchRepo) FailStale(ctx context.Context, olderThan time.Time, reason string, limit int) (int64, error) {
	r.olderThan, r.reason = olderThan, reason
	if r.err != nil {
		return 0, r.err
	}
	var n int64
	if r.calls < len(r.counts) {
		n = r.counts[r.calls]
	}
	r.calls++
	return n, nil
}

func TestNewReaper_Validation(t *testing.T) {
	_, err := worker.NewReaper(&batchRepo{}, "@every 1m", 0, 10, discardLogger())
	assert.Error(t, err)

	_, err = worker.NewReaper(&batchRepo{}, "every minute please", time.Hour, 10, discardLogger())
	assert.Error(t, err)

	_, err = worker.NewReaper(&batchRepo{}, "*/5 * * * *", time.Hour, 10, discardLogger())
	assert.NoError(t, err)
}

func TestReaper_RunOnce_DrainsBatches(t *testing.T) {
	repo := &batchRepo{counts: []int64{10, 10, 3}}
	r, err := worker.NewReaper(repo, "@every 1m", time.Hour, 10, discardLogger())
	require.NoError(t, err)

	before := time.Now()
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(23), n)
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, worker.TimedOutReason, repo.reason)
	assert.WithinDuration(t, before.Add(-time.Hour), repo.olderThan, time.Second)
}

func TestReaper_RunOnce_Error(t *testing.T) {
	repo := &batchRepo{err: errors.New("db down")}
	r, err := worker.NewReaper(repo, "@every 1m", time.Hour, 10, discardLogger())
	require.NoError(t, err)

	_, err = r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestReaper_FailsStaleJobsInStore(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewJobRepository(nil)

	stale := entity.NewJob(entity.TypeShip, "img", time.Now().Add(-2*time.Hour))
	require.NoError(t, repo.Create(ctx, stale))

	r, err := worker.NewReaper(repo, "@every 1m", time.Hour, 10, discardLogger())
	require.NoError(t, err)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	j, err := repo.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, j.Status)
	assert.Equal(t, worker.TimedOutReason, *j.Error)
}

func TestReaper_RunStopsWithContext(t *testing.T) {
	r, err := worker.NewReaper(&batchRepo{}, "@every 1h", time.Hour, 10, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reaper did not stop")
	}
}
