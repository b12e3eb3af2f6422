package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/freightlane/notify-api/internal/model"
)

type PushConfig struct {
	Endpoint  string
	ServerKey string
	Client    *http.Client
}

// PushBackend talks to a legacy-FCM style HTTP push gateway. It serves both the
// per-device and the topic broadcast paths.
type PushBackend struct {
	endpoint  string
	serverKey string
	client    *http.Client
}

type pushNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

type pushRequest struct {
	RegistrationIDs []string          `json:"registration_ids,omitempty"`
	To              string            `json:"to,omitempty"`
	Priority        string            `json:"priority,omitempty"`
	Notification    pushNotification  `json:"notification"`
	Data            map[string]string `json:"data,omitempty"`
}

type pushResult struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error"`
}

type pushResponse struct {
	MulticastID int64        `json:"multicast_id"`
	Success     int          `json:"success"`
	Failure     int          `json:"failure"`
	MessageID   int64        `json:"message_id"`
	Error       string       `json:"error"`
	Results     []pushResult `json:"results"`
}

func NewPushBackend(cfg PushConfig) (*PushBackend, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("push backend requires an endpoint")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &PushBackend{endpoint: cfg.Endpoint, serverKey: cfg.ServerKey, client: client}, nil
}

// stringData flattens notification data into the string map push payloads carry.
func stringData(data model.JSONMap) map[string]string {
	out := make(map[string]string, len(data))
	for k, v := range data {
		if k == model.DataKeyError || k == model.DataKeyRetryCount || k == model.DataKeyRecipient {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			b, err := json.Marshal(val)
			if err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}

func (b *PushBackend) Send(ctx context.Context, msg *Message) (*Result, error) {
	priority := "normal"
	if msg.Notification.Priority == model.PriorityHigh {
		priority = "high"
	}
	data := stringData(msg.Notification.Data)
	data["notification_id"] = msg.Notification.ID.String()
	data["notification_kind"] = string(msg.Notification.NotificationKind)

	resp, err := b.post(ctx, pushRequest{
		RegistrationIDs: msg.Recipient.Tokens,
		Priority:        priority,
		Notification:    pushNotification{Title: msg.Title(), Body: msg.Body()},
		Data:            data,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Total: len(msg.Recipient.Tokens)}
	var errs []string
	for _, r := range resp.Results {
		if r.Error != "" {
			errs = append(errs, r.Error)
			continue
		}
		res.Accepted++
		if res.ProviderMessageID == "" {
			res.ProviderMessageID = r.MessageID
		}
	}
	if len(resp.Results) == 0 {
		res.Accepted = resp.Success
	}
	res.Confirmed = res.Accepted == res.Total
	if res.Accepted == 0 {
		return res, fmt.Errorf("push rejected for all %d tokens: %s", res.Total, strings.Join(errs, ", "))
	}
	return res, nil
}

func (b *PushBackend) SendToTopic(ctx context.Context, topic string, content model.StringMap, data model.JSONMap) (string, error) {
	resp, err := b.post(ctx, pushRequest{
		To:           "/topics/" + strings.TrimPrefix(topic, "/topics/"),
		Notification: pushNotification{Title: content[model.ContentTitle], Body: content[model.ContentBody]},
		Data:         stringData(data),
	})
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("topic push rejected: %s", resp.Error)
	}
	return fmt.Sprintf("%d", resp.MessageID), nil
}

func (b *PushBackend) post(ctx context.Context, body pushRequest) (*pushResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.serverKey != "" {
		req.Header.Set("Authorization", "key="+b.serverKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 256<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("push api error: status %d: %s", resp.StatusCode, string(raw))
	}

	var out pushResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("invalid push api response: %w", err)
	}
	return &out, nil
}
