package collaborators

import (
	"context"
	"log/slog"
)

// SlogStepLogger writes LOG step messages to slog.
type SlogStepLogger struct {
	logger *slog.Logger
}

func NewSlogStepLogger(logger *slog.Logger) *SlogStepLogger {
	return &SlogStepLogger{logger: logger.With("module", "workflow_log_step")}
}

// Log never fails: an unknown level is logged at info.
func (l *SlogStepLogger) Log(ctx context.Context, level, message string) {
	var lvl slog.Level

	err := lvl.UnmarshalText([]byte(level))
	if err != nil {
		lvl = slog.LevelInfo
	}

	l.logger.Log(ctx, lvl, message)
}
