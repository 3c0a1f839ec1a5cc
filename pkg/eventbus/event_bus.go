// Package eventbus provides event-driven communication for lifecycle
// notifications, trigger ingestion and outbound effects.
package eventbus

import (
	"context"

	"github.com/dukex/opsflow/pkg/events"
)

// Event is anything carrying an events.EventType; the bus routes on it.
type Event interface {
	GetType() events.EventType
}

// EventPublisher is the write side used by the orchestrator and the email
// collaborator. The key selects the Kafka partition, usually a run id.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber is the read side used by the worker to ingest triggers.
// Handlers must be registered before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a decoded event, a pointer to one of the events types.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
