package broker

import (
	"context"
	"fmt"

	"github.com/zoff-tech/cart-service/pkg/config"
)

// NewConnectionManager builds the connection manager selected by the broker
// settings.
func NewConnectionManager(ctx context.Context, cfg *config.BrokerSettings) (ConnectionManager, error) {
	switch cfg.Type {
	case "rabbitmq":
		return NewRabbitMqManager(ctx, cfg)
	case "gcp-pubsub":
		return NewPubSubManager(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", cfg.Type)
	}
}
