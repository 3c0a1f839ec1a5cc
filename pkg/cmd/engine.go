package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/opsflow/pkg/clock"
	"github.com/dukex/opsflow/pkg/delayqueue"
	"github.com/dukex/opsflow/pkg/eventbus"
	"github.com/dukex/opsflow/pkg/persistence"
	"github.com/dukex/opsflow/pkg/registry"
	"github.com/dukex/opsflow/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

// EngineConfig holds the settings shared by every binary.
type EngineConfig struct {
	ServiceName         string
	WorkerID            string
	DatabaseURL         string
	EventBus            string
	RedisURL            string
	DefinitionsCacheTTL time.Duration
	HeartbeatInterval   time.Duration
	Collaborators       CollaboratorConfig
}

// EngineConfigFromCommand reads the flags declared by EngineFlags.
func EngineConfigFromCommand(serviceName, workerID string, command *cli.Command) EngineConfig {
	headers := map[string]string{}
	if token := command.String("internal-api-token"); token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	return EngineConfig{
		ServiceName:         serviceName,
		WorkerID:            workerID,
		DatabaseURL:         command.String("database-url"),
		EventBus:            strings.ToLower(command.String("event-bus")),
		RedisURL:            command.String("redis-url"),
		DefinitionsCacheTTL: command.Duration("definitions-cache-ttl"),
		HeartbeatInterval:   command.Duration("heartbeat-interval"),
		Collaborators: CollaboratorConfig{
			InternalAPIBaseURL: command.String("internal-api-base-url"),
			InternalAPIHeaders: headers,
			HTTPTimeout:        command.Duration("http-timeout"),
		},
	}
}

// Engine is the wired workflow engine of one process.
type Engine struct {
	Persistence  persistence.Persistence
	EventBus     eventbus.EventBus
	DelayQueue   *delayqueue.Queue
	Registry     *registry.Registry
	Orchestrator *workflow.Orchestrator
	Dispatcher   *workflow.Dispatcher

	logger *slog.Logger
}

// NewEngine opens the store, the event bus and the delay index and wires the
// orchestrator and dispatcher over them. Resources opened before a failure are
// closed.
func NewEngine(ctx context.Context, logger *slog.Logger, cfg EngineConfig) (*Engine, error) {
	engine := &Engine{logger: logger}

	var err error

	engine.Persistence, err = NewPersistence(ctx, logger, cfg.DatabaseURL, cfg.DefinitionsCacheTTL)
	if err != nil {
		return nil, err
	}

	engine.EventBus, err = NewEventBus(cfg.EventBus, cfg.ServiceName, logger)
	if err != nil {
		engine.Close(ctx)

		return nil, err
	}

	engine.DelayQueue, err = NewDelayQueue(ctx, logger, cfg.RedisURL)
	if err != nil {
		engine.Close(ctx)

		return nil, err
	}

	var publisher eventbus.EventPublisher
	if engine.EventBus != nil {
		publisher = engine.EventBus
	}

	clk := clock.NewReal()

	engine.Registry, err = NewRegistry(logger, clk, publisher, cfg.Collaborators)
	if err != nil {
		engine.Close(ctx)

		return nil, fmt.Errorf("failed to register step executors: %w", err)
	}

	opts := []workflow.Option{
		workflow.WithClock(clk),
		workflow.WithWorkerID(cfg.WorkerID),
		workflow.WithPublisher(publisher),
	}

	if engine.DelayQueue != nil {
		opts = append(opts, workflow.WithDelayIndex(engine.DelayQueue))
	}

	if cfg.HeartbeatInterval > 0 {
		opts = append(opts, workflow.WithHeartbeatInterval(cfg.HeartbeatInterval))
	}

	engine.Orchestrator = workflow.NewOrchestrator(logger, engine.Persistence, engine.Registry, opts...)
	engine.Dispatcher = workflow.NewDispatcher(logger, engine.Persistence.DefinitionRepository(), engine.Orchestrator)

	return engine, nil
}

// Close waits for dispatched runs to settle, then releases every resource.
func (e *Engine) Close(ctx context.Context) {
	var errs []error

	if e.Dispatcher != nil {
		e.Dispatcher.Wait()
	}

	if e.EventBus != nil {
		errs = append(errs, e.EventBus.Close())
	}

	if e.DelayQueue != nil {
		errs = append(errs, e.DelayQueue.Close())
	}

	if e.Persistence != nil {
		errs = append(errs, e.Persistence.Close(ctx))
	}

	err := errors.Join(errs...)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to close engine resources", "error", err)
	}
}
