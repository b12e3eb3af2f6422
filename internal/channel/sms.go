package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

type SMSConfig struct {
	Endpoint string
	APIKey   string
	From     string
	Client   *http.Client
}

// SMSBackend posts messages to an HTTP SMS gateway.
type SMSBackend struct {
	endpoint string
	apiKey   string
	from     string
	client   *http.Client
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type smsResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

func NewSMSBackend(cfg SMSConfig) (*SMSBackend, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("sms backend requires an endpoint")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMSBackend{endpoint: cfg.Endpoint, apiKey: cfg.APIKey, from: cfg.From, client: client}, nil
}

func (b *SMSBackend) Send(ctx context.Context, msg *Message) (*Result, error) {
	text := msg.Body()
	if title := msg.Title(); title != "" && title != text {
		text = title + ": " + text
	}

	payload, err := json.Marshal(smsRequest{From: b.from, To: msg.Recipient.Phone, Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sms api error: status %d: %s", resp.StatusCode, string(body))
	}

	var out smsResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("invalid sms api response: %w", err)
		}
	}
	if out.Error != "" {
		return nil, fmt.Errorf("sms api error: %s", out.Error)
	}
	return &Result{ProviderMessageID: out.MessageID, Confirmed: out.Status == "delivered"}, nil
}
