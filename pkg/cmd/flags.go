package cmd

import (
	"time"

	"github.com/dukex/opsflow/pkg/collaborators"
	cli "github.com/urfave/cli/v3"
)

// EngineFlags are the flags every binary accepts.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL (file://, postgres://, sqlite://, mysql://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel); empty disables lifecycle events and email delivery",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL of the delay index (optional)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "definitions-cache-ttl",
			Usage:   "Cache workflow definitions for this long; 0 disables the cache",
			Value:   0,
			Sources: cli.EnvVars("DEFINITIONS_CACHE_TTL"),
		},
		&cli.DurationFlag{
			Name:    "heartbeat-interval",
			Usage:   "How often a running step refreshes its run heartbeat",
			Value:   10 * time.Second,
			Sources: cli.EnvVars("HEARTBEAT_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    "internal-api-base-url",
			Usage:   "Base URL of the platform API called by INTERNAL_API steps",
			Sources: cli.EnvVars("INTERNAL_API_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "internal-api-token",
			Usage:   "Bearer token sent to the platform API",
			Sources: cli.EnvVars("INTERNAL_API_TOKEN"),
		},
		&cli.DurationFlag{
			Name:    "http-timeout",
			Usage:   "Timeout of outbound HTTP calls",
			Value:   collaborators.DefaultHTTPTimeout,
			Sources: cli.EnvVars("HTTP_TIMEOUT"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json, tint)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}
