// Package channel holds the delivery backends and the dispatcher that drives them.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/pkg/validator"
)

var (
	ErrUnavailable = errors.New("channel backend unavailable")
	ErrNoRecipient = errors.New("no deliverable recipient for channel")
)

// Recipient is the channel-specific address extracted from a contact.
type Recipient struct {
	UserID   string
	UserType model.UserType
	Email    string
	Phone    string
	Tokens   []string
}

// Message is one rendered notification ready for a backend.
type Message struct {
	Notification *model.Notification
	Content      model.StringMap
	Recipient    Recipient
}

func (m *Message) Title() string {
	if s := m.Content[model.ContentSubject]; s != "" {
		return s
	}
	return m.Content[model.ContentTitle]
}

func (m *Message) Body() string {
	return m.Content[model.ContentBody]
}

// Result is what a backend reports for an accepted send.
type Result struct {
	// Accepted and Total count addresses for multi-address sends. Zero Total means
	// a single-address send.
	Accepted int
	Total    int
	// Confirmed is set when the backend knows the message reached the recipient.
	Confirmed         bool
	ProviderMessageID string
}

// Backend sends to one direct-address channel.
type Backend interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// TopicBackend broadcasts to every subscriber of a topic.
type TopicBackend interface {
	SendToTopic(ctx context.Context, topic string, content model.StringMap, data model.JSONMap) (string, error)
}

// RecipientFor extracts and validates the address channel needs from contact.
func RecipientFor(ch model.Channel, n *model.Notification, contact *model.RecipientContact) (Recipient, error) {
	r := Recipient{UserID: n.UserID, UserType: n.UserType}
	v := validator.Default()

	switch ch {
	case model.ChannelInApp:
		if n.UserID == "" {
			return r, fmt.Errorf("%w: %s: missing user id", ErrNoRecipient, ch)
		}
		return r, nil
	}

	if contact == nil {
		return r, fmt.Errorf("%w: %s: no contact on file", ErrNoRecipient, ch)
	}

	switch ch {
	case model.ChannelEmail:
		addr := strings.TrimSpace(contact.Email)
		if addr == "" || v.Var(addr, "email") != nil {
			return r, fmt.Errorf("%w: %s: invalid address %q", ErrNoRecipient, ch, addr)
		}
		r.Email = addr
	case model.ChannelSMS:
		phone := strings.TrimSpace(contact.Phone)
		if phone == "" || v.Var(phone, "e164") != nil {
			return r, fmt.Errorf("%w: %s: invalid phone %q", ErrNoRecipient, ch, phone)
		}
		r.Phone = phone
	case model.ChannelPush:
		for _, t := range contact.DeviceTokens {
			if t = strings.TrimSpace(t); t != "" {
				r.Tokens = append(r.Tokens, t)
			}
		}
		if len(r.Tokens) == 0 {
			return r, fmt.Errorf("%w: %s: no device tokens", ErrNoRecipient, ch)
		}
	default:
		return r, fmt.Errorf("%w: unknown channel %q", ErrNoRecipient, ch)
	}
	return r, nil
}
