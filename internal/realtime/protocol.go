package realtime

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Inbound message types.
const (
	TypeGetNotifications = "getNotifications"
	TypeMarkAsRead       = "markAsRead"
	TypeMarkAllAsRead    = "markAllAsRead"
	TypePong             = "pong"
)

// Outbound frame types.
const (
	TypeNotification        = "notification"
	TypeNotificationUpdated = "notificationUpdated"
	TypeNotifications       = "notifications"
	TypeUnreadCount         = "unreadCount"
	TypePing                = "ping"
	TypeError               = "error"
)

// Envelope is the {type, data} frame used in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Frame is an outbound message.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type getNotificationsData struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Read     *bool `json:"read"`
}

type markAsReadData struct {
	ID uuid.UUID `json:"id"`
}

type notificationsPage struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

type unreadCount struct {
	Count int64 `json:"count"`
}

type errorData struct {
	Message string `json:"message"`
}
