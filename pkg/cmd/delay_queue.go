package cmd

import (
	"context"
	"log/slog"

	"github.com/dukex/opsflow/pkg/delayqueue"
)

// NewDelayQueue connects the Redis delay index. An empty URL disables it.
func NewDelayQueue(ctx context.Context, logger *slog.Logger, redisURL string) (*delayqueue.Queue, error) {
	if redisURL == "" {
		return nil, nil
	}

	return delayqueue.Connect(ctx, redisURL, logger)
}
