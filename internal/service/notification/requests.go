package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/freightlane/notify-api/internal/channel"
	"github.com/freightlane/notify-api/internal/model"
)

// Envelope carries the fields every notification-producing request shares.
type Envelope struct {
	UserID           string                 `json:"user_id" validate:"required,max=128"`
	UserType         model.UserType         `json:"user_type" validate:"required,user_type"`
	NotificationKind model.NotificationKind `json:"notification_kind" validate:"required,notification_kind"`
	Priority         model.Priority         `json:"priority" validate:"omitempty,priority"`
	// Channels overrides preference resolution when set.
	Channels      []string               `json:"channels" validate:"omitempty,dive,channel"`
	Data          map[string]interface{} `json:"data"`
	ReferenceID   *string                `json:"reference_id"`
	ReferenceType *string                `json:"reference_type"`
	Locale        string                 `json:"locale" validate:"omitempty,bcp47_language_tag"`
	TemplateID    *uuid.UUID             `json:"template_id"`
}

type CreateRequest struct {
	Envelope
	Channel model.Channel     `json:"channel" validate:"omitempty,channel"`
	Content map[string]string `json:"content"`
}

type SendRequest struct {
	Envelope
	// Content is explicit copy that wins over the rendered template.
	Content map[string]string `json:"content"`
	// Contact overrides the directory lookup.
	Contact *model.RecipientContact `json:"contact,omitempty"`
}

type SendResult struct {
	Notification *model.Notification              `json:"notification"`
	Outcomes     map[model.Channel]channel.Outcome `json:"outcomes"`
}

type BulkRecipient struct {
	UserID   string         `json:"user_id" validate:"required,max=128"`
	UserType model.UserType `json:"user_type" validate:"required,user_type"`
}

type BulkRequest struct {
	Recipients       []BulkRecipient        `json:"recipients" validate:"required,min=1,max=10000,dive"`
	NotificationKind model.NotificationKind `json:"notification_kind" validate:"required,notification_kind"`
	Priority         model.Priority         `json:"priority" validate:"omitempty,priority"`
	Channels         []string               `json:"channels" validate:"omitempty,dive,channel"`
	Data             map[string]interface{} `json:"data"`
	Content          map[string]string      `json:"content"`
	Locale           string                 `json:"locale" validate:"omitempty,bcp47_language_tag"`
	ReferenceID      *string                `json:"reference_id"`
	ReferenceType    *string                `json:"reference_type"`
}

type BulkResult struct {
	SuccessCount int                   `json:"success_count"`
	FailedCount  int                   `json:"failed_count"`
	Records      []*model.Notification `json:"records"`
}

type TopicRequest struct {
	Topic            string                 `json:"topic" validate:"required,max=200"`
	NotificationKind model.NotificationKind `json:"notification_kind" validate:"required,notification_kind"`
	Data             map[string]interface{} `json:"data"`
	Content          map[string]string      `json:"content"`
	Locale           string                 `json:"locale" validate:"omitempty,bcp47_language_tag"`
}

type ScheduleRequest struct {
	Envelope
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
}

// RunStats summarizes one pass of a periodic sweep.
type RunStats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}
