package messaging

import (
	"context"
)

// Channels used on the bus.
const (
	// ChannelEvents carries inbound notification events to be sent.
	ChannelEvents = "notifications.events"
	// ChannelLive carries in-app pushes from processes without sockets to the API.
	ChannelLive = "notifications.live"
	// ChannelPreferences announces preference writes so every process drops its cached copy.
	ChannelPreferences = "notifications.preferences"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
