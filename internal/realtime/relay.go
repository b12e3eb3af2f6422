package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/messaging"
)

// Publisher stands in for the hub in processes that hold no sockets. It forwards
// pushes over the bus and cannot confirm delivery, so it always reports false.
type Publisher struct {
	broker messaging.Broker
}

func NewPublisher(broker messaging.Broker) *Publisher {
	return &Publisher{broker: broker}
}

func (p *Publisher) Broadcast(ctx context.Context, n *model.Notification) (bool, error) {
	if err := p.broker.Publish(ctx, messaging.ChannelLive, n); err != nil {
		return false, fmt.Errorf("failed to relay live push: %w", err)
	}
	return false, nil
}

// Relay feeds pushes published by other processes into hub until ctx ends.
func Relay(ctx context.Context, broker messaging.Broker, hub *Hub, log *logger.Logger) error {
	return messaging.Consume(ctx, broker, messaging.ChannelLive, log, func(ctx context.Context, payload []byte) error {
		var n model.Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			return fmt.Errorf("failed to decode live push: %w", err)
		}
		_, err := hub.Broadcast(ctx, &n)
		return err
	})
}
