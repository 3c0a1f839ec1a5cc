package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/opsflow/pkg/channels/gochannel"
	"github.com/dukex/opsflow/pkg/channels/kafka"
	"github.com/dukex/opsflow/pkg/eventbus"
)

// NewEventBus creates the event bus for provider. An empty provider disables the
// bus and returns nil.
//
//nolint:ireturn
func NewEventBus(provider, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "":
		return nil, nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName, kafka.BrokersFromEnv())
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "gochannel":
		pub, sub := gochannel.CreateChannel(wmLogger)

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
