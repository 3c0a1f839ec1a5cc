package delayqueue

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

var redisContainer *tcredis.RedisContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if redisContainer != nil {
		_ = testcontainers.TerminateContainer(redisContainer)
	}

	os.Exit(code)
}

func setupQueue(t *testing.T) (*Queue, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)

	if redisContainer == nil || !redisContainer.IsRunning() {
		var err error

		redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
		require.NoError(t, err)
	}

	redisURL, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	queue, err := Connect(ctx, redisURL, logger)
	require.NoError(t, err)

	queue.key = "opsflow:test:" + t.Name()

	t.Cleanup(func() {
		_ = queue.client.Del(ctx, queue.key).Err()
		require.NoError(t, queue.Close())
		cancel()
	})

	return queue, ctx
}

func TestQueue_PopDue(t *testing.T) {
	queue, ctx := setupQueue(t)

	t0 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, queue.Schedule(ctx, "run-soon", t0.Add(time.Minute)))
	require.NoError(t, queue.Schedule(ctx, "run-later", t0.Add(time.Hour)))

	due, err := queue.PopDue(ctx, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = queue.PopDue(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"run-soon"}, due)

	due, err = queue.PopDue(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due, "popped runs are removed")
}

func TestQueue_RescheduleAndRemove(t *testing.T) {
	queue, ctx := setupQueue(t)

	t0 := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, queue.Schedule(ctx, "run-1", t0.Add(time.Minute)))
	require.NoError(t, queue.Schedule(ctx, "run-1", t0.Add(time.Hour)))
	require.NoError(t, queue.Schedule(ctx, "run-2", t0.Add(time.Minute)))
	require.NoError(t, queue.Remove(ctx, "run-2"))

	due, err := queue.PopDue(ctx, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = queue.PopDue(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1"}, due)
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "://nope", slog.Default())
	assert.Error(t, err)
}
