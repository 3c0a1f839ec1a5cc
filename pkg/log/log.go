// Package log installs the process-wide slog handler.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const (
	FormatText = "text"
	FormatJSON = "json"
	FormatTint = "tint"
)

// ParseLevel maps a level name to a slog level; unknown names fall back to info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewHandler builds a handler writing to w in the given format.
func NewHandler(w io.Writer, logLevel, format string) (slog.Handler, error) {
	level := ParseLevel(logLevel)

	switch strings.ToLower(format) {
	case "", FormatText:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case FormatTint:
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339Nano,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

// Setup installs the default logger on stderr and returns it.
func Setup(logLevel, format string) (*slog.Logger, error) {
	handler, err := NewHandler(os.Stderr, logLevel, format)
	if err != nil {
		return nil, err
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, nil
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
