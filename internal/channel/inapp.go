package channel

import (
	"context"

	"github.com/freightlane/notify-api/internal/model"
)

// Broadcaster pushes a notification to the recipient's live connection, reporting
// whether a socket took it.
type Broadcaster interface {
	Broadcast(ctx context.Context, n *model.Notification) (bool, error)
}

// InAppBackend stores nothing itself; the record is the in-app message. A live
// push upgrades the outcome to delivered.
type InAppBackend struct {
	broadcaster Broadcaster
}

func NewInAppBackend(b Broadcaster) *InAppBackend {
	return &InAppBackend{broadcaster: b}
}

func (b *InAppBackend) Send(ctx context.Context, msg *Message) (*Result, error) {
	if b.broadcaster == nil {
		return &Result{}, nil
	}
	// push what the recipient will read, not the unrendered record
	n := *msg.Notification
	n.Content = msg.Content
	live, err := b.broadcaster.Broadcast(ctx, &n)
	if err != nil {
		return nil, err
	}
	return &Result{Confirmed: live}, nil
}
