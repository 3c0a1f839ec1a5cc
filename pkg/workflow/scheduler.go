package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs background jobs at a fixed interval. A job still running when
// its next tick fires is skipped.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	logger = logger.With("module", "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))

	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		logger: logger,
	}
}

// Every registers job under name. Intervals below one second run every second.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, job func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s for job %s", interval, name)
	}

	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		err := job(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduled job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.logger.InfoContext(ctx, "Scheduled job", "job", name, "interval", interval)

	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new ticks and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
