package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "PENDING"
	NotificationStatusSent      NotificationStatus = "SENT"
	NotificationStatusDelivered NotificationStatus = "DELIVERED"
	NotificationStatusFailed    NotificationStatus = "FAILED"
	NotificationStatusSkipped   NotificationStatus = "SKIPPED"
	NotificationStatusCancelled NotificationStatus = "CANCELLED"
)

var ErrInvalidTransition = errors.New("invalid notification status transition")

// transitions lists the statuses reachable from each status.
// FAILED -> PENDING is only used by the retry sweep.
var transitions = map[NotificationStatus][]NotificationStatus{
	NotificationStatusPending: {
		NotificationStatusSent,
		NotificationStatusDelivered,
		NotificationStatusFailed,
		NotificationStatusSkipped,
		NotificationStatusCancelled,
	},
	NotificationStatusSent:   {NotificationStatusDelivered},
	NotificationStatusFailed: {NotificationStatusPending},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to NotificationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// outcomeRank orders dispatch outcomes when several channels report on one record.
var outcomeRank = map[NotificationStatus]int{
	NotificationStatusSkipped:   1,
	NotificationStatusFailed:    2,
	NotificationStatusSent:      3,
	NotificationStatusDelivered: 4,
}

// BetterOutcome returns whichever of a and b ranks higher.
func BetterOutcome(a, b NotificationStatus) NotificationStatus {
	if outcomeRank[b] > outcomeRank[a] {
		return b
	}
	return a
}

// Reserved keys inside Notification.Data.
const (
	DataKeyError      = "error"
	DataKeyRetryCount = "retryCount"
	DataKeyChannels   = "channels"
	DataKeyLocale     = "locale"
	DataKeyTemplateID = "templateId"
	DataKeyRecipient  = "recipient"
	DataKeyDeliveries = "deliveries"
)

type Notification struct {
	ID               uuid.UUID          `json:"id" db:"id"`
	UserID           string             `json:"user_id" db:"user_id"`
	UserType         UserType           `json:"user_type" db:"user_type"`
	NotificationKind NotificationKind   `json:"notification_kind" db:"notification_kind"`
	Channel          Channel            `json:"channel" db:"channel"`
	Content          StringMap          `json:"content" db:"content"`
	Data             JSONMap            `json:"data" db:"data"`
	Status           NotificationStatus `json:"status" db:"status"`
	Read             bool               `json:"read" db:"read"`
	Priority         Priority           `json:"priority" db:"priority"`
	ReferenceID      *string            `json:"reference_id,omitempty" db:"reference_id"`
	ReferenceType    *string            `json:"reference_type,omitempty" db:"reference_type"`
	ScheduledFor     *time.Time         `json:"scheduled_for,omitempty" db:"scheduled_for"`
	SentAt           *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	DeliveredAt      *time.Time         `json:"delivered_at,omitempty" db:"delivered_at"`
	ReadAt           *time.Time         `json:"read_at,omitempty" db:"read_at"`
	CreatedAt        time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at" db:"updated_at"`
}

// TransitionTo moves the record to status and stamps the matching timestamp.
func (n *Notification) TransitionTo(status NotificationStatus, at time.Time) error {
	if !CanTransition(n.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, status)
	}
	if status == NotificationStatusCancelled && n.ScheduledFor == nil {
		return fmt.Errorf("%w: only scheduled notifications can be cancelled", ErrInvalidTransition)
	}
	n.Status = status
	n.UpdatedAt = at
	switch status {
	case NotificationStatusSent:
		n.SentAt = &at
	case NotificationStatusDelivered:
		if n.SentAt == nil {
			n.SentAt = &at
		}
		n.DeliveredAt = &at
	}
	return nil
}

// MarkRead flags the record as read; readAt is always set with read.
func (n *Notification) MarkRead(at time.Time) {
	if n.Read {
		return
	}
	n.Read = true
	n.ReadAt = &at
	n.UpdatedAt = at
}

// RetryCount reads the retry counter embedded in Data.
func (n *Notification) RetryCount() int {
	if n.Data == nil {
		return 0
	}
	switch v := n.Data[DataKeyRetryCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (n *Notification) SetRetryCount(count int) {
	if n.Data == nil {
		n.Data = JSONMap{}
	}
	n.Data[DataKeyRetryCount] = count
}

// MergeChannelError records a channel-specific failure under data.error.
func (n *Notification) MergeChannelError(channel Channel, msg string) {
	if n.Data == nil {
		n.Data = JSONMap{}
	}
	errs, ok := n.Data[DataKeyError].(map[string]interface{})
	if !ok {
		errs = map[string]interface{}{}
	}
	errs[string(channel)] = msg
	n.Data[DataKeyError] = errs
}

// ClearChannelError drops a channel's entry from data.error.
func (n *Notification) ClearChannelError(channel Channel) {
	if errs, ok := n.Data[DataKeyError].(map[string]interface{}); ok {
		delete(errs, string(channel))
		if len(errs) == 0 {
			delete(n.Data, DataKeyError)
		}
	}
}

// SetDeliveryStatus records the last outcome of one channel under data.deliveries.
func (n *Notification) SetDeliveryStatus(channel Channel, status NotificationStatus) {
	if n.Data == nil {
		n.Data = JSONMap{}
	}
	deliveries, ok := n.Data[DataKeyDeliveries].(map[string]interface{})
	if !ok {
		deliveries = map[string]interface{}{}
	}
	deliveries[string(channel)] = string(status)
	n.Data[DataKeyDeliveries] = deliveries
}

// ChannelsWithStatus lists the channels whose last recorded outcome is status,
// in the canonical channel order.
func (n *Notification) ChannelsWithStatus(status NotificationStatus) ChannelList {
	deliveries, ok := n.Data[DataKeyDeliveries].(map[string]interface{})
	if !ok {
		return nil
	}
	var out ChannelList
	for _, c := range Channels {
		if s, ok := deliveries[string(c)].(string); ok && NotificationStatus(s) == status {
			out = append(out, c)
		}
	}
	return out
}

// ExplicitChannels returns the channel override stored with a scheduled record.
func (n *Notification) ExplicitChannels() ChannelList {
	raw, ok := n.Data[DataKeyChannels]
	if !ok {
		return nil
	}
	var out ChannelList
	switch v := raw.(type) {
	case []interface{}:
		for _, c := range v {
			if s, ok := c.(string); ok {
				out = append(out, Channel(s))
			}
		}
	case []string:
		out = ParseChannelList(v)
	case ChannelList:
		out = v
	}
	return out
}

func (n *Notification) Locale() string {
	if s, ok := n.Data[DataKeyLocale].(string); ok && s != "" {
		return s
	}
	return DefaultLocale
}

// NotificationFilter narrows list queries.
type NotificationFilter struct {
	UserID           string
	UserType         UserType
	NotificationKind NotificationKind
	Status           NotificationStatus
	Read             *bool
	Pagination
}

// NotificationStats aggregates counts for the statistics endpoint.
type NotificationStats struct {
	Total     int64                        `json:"total"`
	Unread    int64                        `json:"unread"`
	ByStatus  map[NotificationStatus]int64 `json:"by_status"`
	ByChannel map[Channel]int64            `json:"by_channel"`
}
