package model

import (
	"time"

	"github.com/google/uuid"
)

const DefaultLocale = "en"

// Content keys understood by the channel backends.
const (
	ContentTitle   = "title"
	ContentBody    = "body"
	ContentSubject = "subject"
	ContentHTML    = "html"
)

// Template is one (kind, channel, locale) content definition.
type Template struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	Name             string           `json:"name" db:"name"`
	NotificationKind NotificationKind `json:"notification_kind" db:"notification_kind"`
	Channel          Channel          `json:"channel" db:"channel"`
	Content          StringMap        `json:"content" db:"content"`
	Variables        StringList       `json:"variables" db:"variables"`
	Locale           string           `json:"locale" db:"locale"`
	IsDefault        bool             `json:"is_default" db:"is_default"`
	IsActive         bool             `json:"is_active" db:"is_active"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// TemplateKey identifies the tuple a default template is unique for.
type TemplateKey struct {
	NotificationKind NotificationKind
	Channel          Channel
	Locale           string
}

func (t *Template) Key() TemplateKey {
	return TemplateKey{NotificationKind: t.NotificationKind, Channel: t.Channel, Locale: t.Locale}
}

// FallbackTemplate builds the auto-generated template used when none exists.
func FallbackTemplate(kind NotificationKind, channel Channel, locale string, now time.Time) *Template {
	content := StringMap{
		ContentTitle: kind.Title(),
		ContentBody:  "{{message}}",
	}
	if channel == ChannelEmail {
		content[ContentSubject] = kind.Title()
	}
	return &Template{
		ID:               uuid.New(),
		Name:             string(kind) + "_" + string(channel) + "_" + locale,
		NotificationKind: kind,
		Channel:          channel,
		Content:          content,
		Variables:        StringList{"message"},
		Locale:           locale,
		IsDefault:        true,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

type TemplateFilter struct {
	NotificationKind NotificationKind
	Channel          Channel
	Locale           string
	ActiveOnly       bool
}
