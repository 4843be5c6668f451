package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/reeflow/reeflow/pkg/channels/gochannel"
	"github.com/reeflow/reeflow/pkg/channels/kafka"
	"github.com/reeflow/reeflow/pkg/eventbus"
)

// NewEventBus creates the audit event bus for the given provider. gochannel
// keeps events in process; kafka publishes them to the brokers named by
// KAFKA_BROKERS.
func NewEventBus(provider, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil

	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create GoChannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil

	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
