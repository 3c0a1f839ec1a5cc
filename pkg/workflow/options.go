// Package workflow drives workflow runs: it executes steps, persists every
// transition, suspends on delays and resumes or recovers runs later.
package workflow

import (
	"context"
	"time"

	"github.com/dukex/opsflow/pkg/clock"
	"github.com/dukex/opsflow/pkg/eventbus"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/protocol"
)

const defaultHeartbeatInterval = 10 * time.Second

// ExecutorSource resolves the executor of a step type.
type ExecutorSource interface {
	Executor(stepType models.StepType) (protocol.StepExecutor, error)
}

// DelayIndex is an optional secondary index of suspended runs by resume time.
type DelayIndex interface {
	Schedule(ctx context.Context, runID string, resumeAt time.Time) error
	Remove(ctx context.Context, runID string) error
	PopDue(ctx context.Context, now time.Time) ([]string, error)
}

type settings struct {
	clock             clock.Clock
	publisher         eventbus.EventPublisher
	delays            DelayIndex
	workerID          string
	heartbeatInterval time.Duration
}

func newSettings(opts []Option) settings {
	s := settings{
		clock:             clock.NewReal(),
		heartbeatInterval: defaultHeartbeatInterval,
	}

	for _, opt := range opts {
		opt(&s)
	}

	return s
}

// Option customises the runner and the orchestrator.
type Option func(*settings)

// WithClock replaces the wall clock, used to drive delays in tests.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithPublisher publishes run and step lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *settings) {
		s.publisher = publisher
	}
}

// WithDelayIndex mirrors suspensions into a delay index.
func WithDelayIndex(delays DelayIndex) Option {
	return func(s *settings) {
		s.delays = delays
	}
}

// WithWorkerID tags lifecycle events and logs with the worker identity.
func WithWorkerID(id string) Option {
	return func(s *settings) {
		s.workerID = id
	}
}

// WithHeartbeatInterval sets how often a running step refreshes the run
// heartbeat. Zero disables the refresh.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(s *settings) {
		s.heartbeatInterval = interval
	}
}
