package messaging

import (
	"context"

	"github.com/freightlane/notify-api/pkg/logger"
)

// Handler processes one raw message.
type Handler func(ctx context.Context, payload []byte) error

// Consume subscribes to channel and feeds every message to handler until ctx ends.
// Handler errors are logged and the loop continues.
func Consume(ctx context.Context, broker Broker, channel string, log *logger.Logger, handler Handler) error {
	msgChan, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgChan {
			if err := handler(ctx, msg); err != nil {
				log.Error(err, "Failed to handle bus message", "channel", channel)
				continue
			}
		}
	}()

	return nil
}
