package notification

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event types accepted on the bus.
const (
	EventSend     = "send"
	EventBulk     = "bulk"
	EventTopic    = "topic"
	EventSchedule = "schedule"
)

type busEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EventHandler turns bus payloads into orchestrator calls.
type EventHandler struct {
	svc Service
}

func NewEventHandler(svc Service) *EventHandler {
	return &EventHandler{svc: svc}
}

// Handle decodes one {type, payload} envelope and runs it. Delivery failures are
// recorded on the notification and are not returned.
func (h *EventHandler) Handle(ctx context.Context, raw []byte) error {
	var evt busEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}

	switch evt.Type {
	case EventSend:
		var req SendRequest
		if err := json.Unmarshal(evt.Payload, &req); err != nil {
			return fmt.Errorf("failed to decode send event: %w", err)
		}
		_, err := h.svc.Send(ctx, &req)
		return err
	case EventBulk:
		var req BulkRequest
		if err := json.Unmarshal(evt.Payload, &req); err != nil {
			return fmt.Errorf("failed to decode bulk event: %w", err)
		}
		_, err := h.svc.SendBulk(ctx, &req)
		return err
	case EventTopic:
		var req TopicRequest
		if err := json.Unmarshal(evt.Payload, &req); err != nil {
			return fmt.Errorf("failed to decode topic event: %w", err)
		}
		_, err := h.svc.SendTopic(ctx, &req)
		return err
	case EventSchedule:
		var req ScheduleRequest
		if err := json.Unmarshal(evt.Payload, &req); err != nil {
			return fmt.Errorf("failed to decode schedule event: %w", err)
		}
		_, err := h.svc.Schedule(ctx, &req)
		return err
	default:
		return fmt.Errorf("unknown event type %q", evt.Type)
	}
}
