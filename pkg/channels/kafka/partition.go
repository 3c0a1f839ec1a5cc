package kafka

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/opsflow/pkg/events"
)

// partitionKey keeps all events of one run, or of one trigger name, on the same
// partition so consumers see them in order.
func partitionKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(events.EventMetadataKey), nil
}
