package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/opsflow/pkg/events"
	"github.com/dukex/opsflow/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var ErrNoHandlers = errors.New("no event handlers registered")

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	logger        *slog.Logger
	tracer        trace.Tracer
	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "eventbus"),
		tracer:        otel.Tracer("opsflow/eventbus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish sends event on its topic. key is used for partitioning; the trace
// context travels in the message metadata.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	for k, v := range carrier {
		msg.Metadata.Set(k, v)
	}

	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	topic := events.TopicOf(event.GetType())

	eb.logger.DebugContext(ctx, "Publishing event", "key", key, "event_type", event.GetType(), "topic", topic)

	return eb.publisher.Publish(topic, msg)
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

// Subscribe starts one consumer per topic that has at least one handler.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	eb.mu.RLock()

	topics := make(map[string]bool)
	for eventType := range eb.subscriptions {
		topics[events.TopicOf(eventType)] = true
	}

	eb.mu.RUnlock()

	if len(topics) == 0 {
		return ErrNoHandlers
	}

	for topic := range topics {
		messages, err := eb.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}

		eb.logger.InfoContext(ctx, "Subscribed to topic", "topic", topic)

		go eb.consume(ctx, topic, messages)
	}

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, topic string, messages <-chan *message.Message) {
	for msg := range messages {
		eb.process(ctx, topic, msg)
	}
}

// process acknowledges every message it can route. Handler failures are logged
// and not redelivered: trigger dispatch is not idempotent.
func (eb *WatermillEventBus) process(ctx context.Context, topic string, msg *message.Message) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))

	traceCtx, span := otelhelper.StartSpan(msgCtx, eb.tracer, "eventbus consume",
		attribute.String(otelhelper.EventTypeKey, string(eventType)),
		attribute.String("messaging.destination", topic),
	)
	defer span.End()

	eb.mu.RLock()
	handler, exists := eb.subscriptions[eventType]
	eb.mu.RUnlock()

	if !exists {
		msg.Ack()

		return
	}

	event, known := events.New(eventType)
	if !known {
		eb.logger.ErrorContext(traceCtx, "Unknown event type", "event_type", eventType)
		otelhelper.SetError(span, errors.New("unknown event type"))
		msg.Ack()

		return
	}

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		eb.logger.ErrorContext(traceCtx, "Failed to unmarshal event", "error", err, "event_type", eventType)
		otelhelper.SetError(span, err)
		msg.Ack()

		return
	}

	err = handler(traceCtx, event)
	if err != nil {
		eb.logger.ErrorContext(traceCtx, "Failed to handle event", "error", err, "event_type", eventType)
		otelhelper.SetError(span, err)
		msg.Ack()

		return
	}

	span.SetStatus(codes.Ok, "")
	msg.Ack()
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
