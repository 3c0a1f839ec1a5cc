package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dukex/opsflow/pkg/events"
	"github.com/dukex/opsflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *WatermillEventBus {
	t.Helper()

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 10}, watermill.NopLogger{})
	bus := NewWatermillEventBus(pubSub, pubSub, slog.Default())

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_RoutesByEventType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	triggers := make(chan *events.TriggerReceived, 1)
	completed := make(chan *events.RunCompleted, 1)

	require.NoError(t, bus.Handle(events.TriggerReceivedEvent, func(_ context.Context, event any) error {
		triggers <- event.(*events.TriggerReceived)

		return nil
	}))
	require.NoError(t, bus.Handle(events.RunCompletedEvent, func(_ context.Context, event any) error {
		completed <- event.(*events.RunCompleted)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "investor.created", events.NewTriggerReceived("investor.created", map[string]any{"email": "a@x.com"})))

	run := &models.WorkflowRun{ID: "run-1", WorkflowID: "investor-welcome"}
	require.NoError(t, bus.Publish(ctx, run.ID, &events.RunCompleted{
		BaseEvent:  events.NewBaseEvent(events.RunCompletedEvent, run),
		DurationMs: 1200,
	}))

	select {
	case trigger := <-triggers:
		assert.Equal(t, "investor.created", trigger.EventName)
		assert.Equal(t, "a@x.com", trigger.Payload["email"])
	case <-time.After(5 * time.Second):
		t.Fatal("trigger event not delivered")
	}

	select {
	case event := <-completed:
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, int64(1200), event.DurationMs)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle event not delivered")
	}
}

func TestWatermillEventBus_HandlerErrorDoesNotRedeliver(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	calls := make(chan struct{}, 4)

	require.NoError(t, bus.Handle(events.TriggerReceivedEvent, func(context.Context, any) error {
		calls <- struct{}{}

		return errors.New("dispatch failed")
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "document.signed", events.NewTriggerReceived("document.signed", nil)))

	select {
	case <-calls:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger event not delivered")
	}

	select {
	case <-calls:
		t.Fatal("failed message was redelivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatermillEventBus_SubscribeWithoutHandlers(t *testing.T) {
	bus := newTestBus(t)

	assert.ErrorIs(t, bus.Subscribe(context.Background()), ErrNoHandlers)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}
