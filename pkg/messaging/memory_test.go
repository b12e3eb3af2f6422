package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightlane/notify-api/pkg/logger"
)

func TestMemoryBroker_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBroker()
	ch, err := b.Subscribe(ctx, ChannelEvents)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, ChannelEvents, Message{Type: "send"}))

	select {
	case msg := <-ch:
		assert.JSONEq(t, `{"type":"send","payload":null}`, string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestConsume_ContinuesAfterHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBroker()
	var mu sync.Mutex
	var seen int
	done := make(chan struct{})

	err := Consume(ctx, b, ChannelLive, logger.Nop(), func(_ context.Context, _ []byte) error {
		mu.Lock()
		defer mu.Unlock()
		seen++
		if seen == 2 {
			close(done)
		}
		return errors.New("bad payload")
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, ChannelLive, "a"))
	require.NoError(t, b.Publish(ctx, ChannelLive, "b"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not see both messages")
	}
}
