package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omkar-codehub/sar-marine-backend/internal/config"
	"github.com/omkar-codehub/sar-marine-backend/internal/entity"
	"github.com/omkar-codehub/sar-marine-backend/internal/service"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewLogger_Levels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, NewLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger("info").Enabled(ctx, slog.LevelDebug))
	assert.False(t, NewLogger("WARN").Enabled(ctx, slog.LevelInfo))
	assert.True(t, NewLogger("bogus").Enabled(ctx, slog.LevelInfo))
}

func TestOpenStore_Drivers(t *testing.T) {
	ctx := context.Background()

	for _, cfg := range []config.StoreConfig{
		{Driver: config.StoreMemory},
		{Driver: config.StoreSQLite, SQLitePath: filepath.Join(t.TempDir(), "detect.db"), RunMigrations: true},
	} {
		t.Run(string(cfg.Driver), func(t *testing.T) {
			store, err := OpenStore(ctx, cfg, quietLogger())
			require.NoError(t, err)
			defer func() { assert.NoError(t, store.Close()) }()

			job := entity.NewJob(entity.TypeShip, "img", time.Now())
			require.NoError(t, store.Jobs.Create(ctx, job))

			got, err := store.Jobs.GetByID(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, entity.StatusQueued, got.Status)
		})
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := OpenStore(context.Background(), config.StoreConfig{Driver: "mongo"}, quietLogger())
	assert.Error(t, err)
}

func TestOpenQueue_MemoryWithoutRedis(t *testing.T) {
	q, err := OpenQueue(context.Background(), config.RedisConfig{}, quietLogger())
	require.NoError(t, err)
	_, ok := q.Queue.(*service.MemoryQueue)
	assert.True(t, ok)
	assert.NoError(t, q.Close())
}

func TestNewReaper_DisabledByDefault(t *testing.T) {
	store, err := OpenStore(context.Background(), config.StoreConfig{Driver: config.StoreMemory}, quietLogger())
	require.NoError(t, err)

	r, err := NewReaper(config.ReaperConfig{Schedule: "@every 1m"}, store.Jobs, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = NewReaper(config.ReaperConfig{Schedule: "@every 1m", JobTimeout: time.Minute, Batch: 10}, store.Jobs, quietLogger())
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestConsumerID_UniquePerCall(t *testing.T) {
	a, b := consumerID(), consumerID()
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "-")
}
