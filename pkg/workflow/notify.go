package workflow

import (
	"context"
	"log/slog"

	"github.com/dukex/opsflow/pkg/eventbus"
	"github.com/dukex/opsflow/pkg/events"
	"github.com/dukex/opsflow/pkg/models"
)

// notifier publishes lifecycle events. A failed publication is logged and never
// affects the run.
type notifier struct {
	publisher eventbus.EventPublisher
	workerID  string
	logger    *slog.Logger
}

func (n notifier) base(eventType events.EventType, run *models.WorkflowRun) events.BaseEvent {
	base := events.NewBaseEvent(eventType, run)
	base.WorkerID = n.workerID

	return base
}

func (n notifier) publish(ctx context.Context, run *models.WorkflowRun, event eventbus.Event) {
	if n.publisher == nil {
		return
	}

	err := n.publisher.Publish(ctx, run.ID, event)
	if err != nil {
		n.logger.WarnContext(ctx, "Failed to publish lifecycle event",
			"run_id", run.ID,
			"event_type", event.GetType(),
			"error", err,
		)
	}
}
