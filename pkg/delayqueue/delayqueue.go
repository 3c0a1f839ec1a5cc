// Package delayqueue keeps an index of suspended runs in a Redis sorted set,
// scored by the time each run is due to resume.
package delayqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the sorted set used when none is configured.
const DefaultKey = "opsflow:delayed_runs"

// Queue is a Redis backed delay index. It is only a hint: the run store stays the
// source of truth and every popped id is claimed through it.
type Queue struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewQueue wraps an existing client.
func NewQueue(client *redis.Client, key string, logger *slog.Logger) *Queue {
	if key == "" {
		key = DefaultKey
	}

	return &Queue{
		client: client,
		key:    key,
		logger: logger.With("module", "delayqueue"),
	}
}

// Connect opens a client from a redis:// URL and checks it responds.
func Connect(ctx context.Context, redisURL string, logger *slog.Logger) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", opts.Addr, "db", opts.DB)

	return NewQueue(client, DefaultKey, logger), nil
}

// Schedule records that runID is due at resumeAt. Scheduling the same run again
// moves it.
func (q *Queue) Schedule(ctx context.Context, runID string, resumeAt time.Time) error {
	err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(resumeAt.UnixMilli()),
		Member: runID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule run %s: %w", runID, err)
	}

	return nil
}

// Remove forgets runID, used when a waiting run is cancelled.
func (q *Queue) Remove(ctx context.Context, runID string) error {
	err := q.client.ZRem(ctx, q.key, runID).Err()
	if err != nil {
		return fmt.Errorf("failed to remove run %s: %w", runID, err)
	}

	return nil
}

// PopDue atomically reads and removes every run due at or before now.
func (q *Queue) PopDue(ctx context.Context, now time.Time) ([]string, error) {
	maxScore := strconv.FormatInt(now.UnixMilli(), 10)

	pipe := q.client.TxPipeline()
	due := pipe.ZRangeByScore(ctx, q.key, &redis.ZRangeBy{Min: "-inf", Max: maxScore})
	pipe.ZRemRangeByScore(ctx, q.key, "-inf", maxScore)

	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		q.logger.ErrorContext(ctx, "Error while popping due runs", "key", q.key, "error", err)

		return nil, fmt.Errorf("failed to pop due runs: %w", err)
	}

	ids, err := due.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}

		return nil, fmt.Errorf("failed to read due runs: %w", err)
	}

	return ids, nil
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.client.Close()
}
