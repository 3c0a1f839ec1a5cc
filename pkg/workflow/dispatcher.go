package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/opsflow/pkg/events"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/dukex/opsflow/pkg/otelhelper"
	"github.com/dukex/opsflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher starts one run per active definition subscribed to an event. It
// returns once the runs exist; they are driven in the background.
type Dispatcher struct {
	definitions  persistence.DefinitionRepository
	orchestrator *Orchestrator
	logger       *slog.Logger
	tracer       trace.Tracer
	inflight     sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, definitions persistence.DefinitionRepository, orchestrator *Orchestrator) *Dispatcher {
	return &Dispatcher{
		definitions:  definitions,
		orchestrator: orchestrator,
		logger:       logger.With("module", "trigger_dispatcher"),
		tracer:       otelhelper.Tracer("opsflow.workflow"),
	}
}

// Dispatch creates a PENDING run for every active definition whose trigger is
// eventName. Definitions that fail to start are reported in the joined error;
// the handles of the runs that were created are returned regardless.
func (d *Dispatcher) Dispatch(ctx context.Context, eventName string, payload map[string]any) ([]models.RunHandle, error) {
	if eventName == "" {
		return nil, events.ErrEventNameRequired
	}

	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "workflow.dispatch",
		attribute.String(otelhelper.TriggerEventKey, eventName),
	)
	defer span.End()

	definitions, err := d.definitions.ActiveByEvent(ctx, eventName)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load workflows for event %s: %w", eventName, err)
	}

	handles := make([]models.RunHandle, 0, len(definitions))

	var errs []error

	for _, definition := range definitions {
		if !definition.Active {
			continue
		}

		run, err := d.orchestrator.Create(ctx, definition, payload)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to create run", "workflow_id", definition.ID, "event", eventName, "error", err)
			errs = append(errs, err)

			continue
		}

		handles = append(handles, models.RunHandle{RunID: run.ID, WorkflowID: definition.ID})

		d.inflight.Add(1)

		go func() {
			defer d.inflight.Done()

			err := d.orchestrator.Execute(context.WithoutCancel(ctx), run, definition)
			if err != nil {
				d.logger.Error("Run stopped with error", "run_id", run.ID, "workflow_id", definition.ID, "error", err)
			}
		}()
	}

	d.logger.InfoContext(ctx, "Dispatched event", "event", eventName, "runs", len(handles))

	err = errors.Join(errs...)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return handles, err
}

// HandleTrigger is the event bus handler of TriggerReceived events.
func (d *Dispatcher) HandleTrigger(ctx context.Context, event any) error {
	trigger, ok := event.(*events.TriggerReceived)
	if !ok {
		d.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived", "type", fmt.Sprintf("%T", event))

		return nil
	}

	err := trigger.Validate()
	if err != nil {
		return err
	}

	_, err = d.Dispatch(ctx, trigger.EventName, trigger.Payload)

	return err
}

// Wait blocks until every run started by Dispatch has finished or suspended.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
