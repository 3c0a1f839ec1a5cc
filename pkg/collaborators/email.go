package collaborators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/opsflow/pkg/eventbus"
	"github.com/dukex/opsflow/pkg/events"
	"github.com/dukex/opsflow/pkg/protocol"
)

// ErrNoEventBus is returned by Send when the sender has no event bus to publish on.
var ErrNoEventBus = errors.New("email delivery requires an event bus")

// EventEmailSender hands emails to the mail service by publishing
// EmailRequested events. The returned id is the message id of the event.
type EventEmailSender struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewEventEmailSender(logger *slog.Logger, publisher eventbus.EventPublisher) *EventEmailSender {
	return &EventEmailSender{
		publisher: publisher,
		logger:    logger.With("module", "email_sender"),
	}
}

func (s *EventEmailSender) Send(ctx context.Context, to string, templateKey string, variables map[string]any) (string, error) {
	if s.publisher == nil {
		return "", protocol.Permanent(ErrNoEventBus)
	}

	event := events.EmailRequested{
		BaseEvent:   events.NewBaseEvent(events.EmailRequestedEvent, nil),
		To:          to,
		TemplateKey: templateKey,
		Variables:   variables,
	}
	event.MessageID = event.ID

	err := s.publisher.Publish(ctx, to, event)
	if err != nil {
		return "", fmt.Errorf("failed to request %s email: %w", templateKey, err)
	}

	s.logger.InfoContext(ctx, "Email requested", "message_id", event.MessageID, "template_key", templateKey)

	return event.MessageID, nil
}
