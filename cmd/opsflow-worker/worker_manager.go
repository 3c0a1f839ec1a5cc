package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/opsflow/pkg/eventbus"
	"github.com/dukex/opsflow/pkg/events"
	"github.com/dukex/opsflow/pkg/workflow"
)

const shutdownTimeout = 30 * time.Second

// WorkerConfig sets the cadence of the background jobs.
type WorkerConfig struct {
	ResumeInterval   time.Duration
	RecoveryInterval time.Duration
}

// WorkerManager consumes trigger events and runs the resumer and the recovery
// sweep until its context is cancelled.
type WorkerManager struct {
	id         string
	logger     *slog.Logger
	eventBus   eventbus.EventSubscriber
	dispatcher *workflow.Dispatcher
	resumer    *workflow.Resumer
	recovery   *workflow.Recovery
	scheduler  *workflow.Scheduler
	config     WorkerConfig
}

func NewWorkerManager(
	id string,
	logger *slog.Logger,
	eventBus eventbus.EventSubscriber,
	dispatcher *workflow.Dispatcher,
	resumer *workflow.Resumer,
	recovery *workflow.Recovery,
	config WorkerConfig,
) *WorkerManager {
	logger = logger.With("module", "opsflow-worker", "worker_id", id)

	return &WorkerManager{
		id:         id,
		logger:     logger,
		eventBus:   eventBus,
		dispatcher: dispatcher,
		resumer:    resumer,
		recovery:   recovery,
		scheduler:  workflow.NewScheduler(logger),
		config:     config,
	}
}

// Start blocks until ctx is cancelled.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if w.eventBus != nil {
		err := w.eventBus.Handle(events.TriggerReceivedEvent, w.dispatcher.HandleTrigger)
		if err != nil {
			return err
		}

		err = w.eventBus.Subscribe(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

			return err
		}
	} else {
		w.logger.WarnContext(ctx, "No event bus configured, trigger events will not be consumed")
	}

	// Runs orphaned by a previous crash of this worker are picked up at once.
	w.sweep(ctx)

	err := errors.Join(
		w.scheduler.Every(ctx, "resume", w.config.ResumeInterval, w.resume),
		w.scheduler.Every(ctx, "recovery", w.config.RecoveryInterval, func(ctx context.Context) error {
			w.sweep(ctx)

			return nil
		}),
	)
	if err != nil {
		return err
	}

	w.scheduler.Start()

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()

	w.logger.InfoContext(ctx, "Shutting down worker...")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	w.scheduler.Stop(stopCtx)
	w.dispatcher.Wait()

	return nil
}

func (w *WorkerManager) resume(ctx context.Context) error {
	resumed, err := w.resumer.Tick(ctx)
	if resumed > 0 {
		w.logger.InfoContext(ctx, "Resumed waiting runs", "count", resumed)
	}

	return err
}

func (w *WorkerManager) sweep(ctx context.Context) {
	recovered, err := w.recovery.Sweep(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Recovery sweep failed", "error", err)
	}

	if recovered > 0 {
		w.logger.WarnContext(ctx, "Recovered stale runs", "count", recovered)
	}
}
