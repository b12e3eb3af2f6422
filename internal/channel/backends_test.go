package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/freightlane/notify-api/internal/model"
)

func TestSMSBackend_Send(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message_id":"sms-1","status":"queued"}`))
	}))
	defer srv.Close()

	b, err := NewSMSBackend(SMSConfig{Endpoint: srv.URL, APIKey: "key-1", From: "FRTLANE"})
	require.NoError(t, err)

	res, err := b.Send(context.Background(), &Message{
		Notification: testNotification(),
		Content:      model.StringMap{"title": "Load assigned", "body": "L-1 is yours"},
		Recipient:    Recipient{Phone: "+15125550100"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sms-1", res.ProviderMessageID)
	assert.False(t, res.Confirmed)
	assert.Equal(t, smsRequest{From: "FRTLANE", To: "+15125550100", Text: "Load assigned: L-1 is yours"}, got)
}

func TestSMSBackend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad number", http.StatusBadRequest)
	}))
	defer srv.Close()

	b, err := NewSMSBackend(SMSConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), &Message{Notification: testNotification(), Content: model.StringMap{"body": "x"}})
	assert.ErrorContains(t, err, "status 400")
}

func TestPushBackend_PartialAcceptance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=srv", r.Header.Get("Authorization"))
		var req pushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"tok-1", "tok-2"}, req.RegistrationIDs)
		assert.Equal(t, "high", req.Priority)
		assert.NotEmpty(t, req.Data["notification_id"])
		w.Write([]byte(`{"success":1,"failure":1,"results":[{"message_id":"m-1"},{"error":"NotRegistered"}]}`))
	}))
	defer srv.Close()

	b, err := NewPushBackend(PushConfig{Endpoint: srv.URL, ServerKey: "srv"})
	require.NoError(t, err)

	n := testNotification()
	n.Priority = model.PriorityHigh
	res, err := b.Send(context.Background(), &Message{
		Notification: n,
		Content:      model.StringMap{"title": "t", "body": "b"},
		Recipient:    Recipient{Tokens: []string{"tok-1", "tok-2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 2, res.Total)
	assert.False(t, res.Confirmed)
	assert.Equal(t, "m-1", res.ProviderMessageID)
}

func TestPushBackend_AllRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":0,"failure":1,"results":[{"error":"InvalidRegistration"}]}`))
	}))
	defer srv.Close()

	b, err := NewPushBackend(PushConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = b.Send(context.Background(), &Message{
		Notification: testNotification(),
		Content:      model.StringMap{"body": "b"},
		Recipient:    Recipient{Tokens: []string{"tok-1"}},
	})
	assert.ErrorContains(t, err, "InvalidRegistration")
}

func TestPushBackend_Topic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req pushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/topics/region-tx", req.To)
		w.Write([]byte(`{"message_id":12345}`))
	}))
	defer srv.Close()

	b, err := NewPushBackend(PushConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	id, err := b.SendToTopic(context.Background(), "region-tx", model.StringMap{"body": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "12345", id)
}

type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) SendEmail(ctx context.Context, msg EmailMessage) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func TestEmailBackend_Send(t *testing.T) {
	mailer := new(MockMailer)
	mailer.On("SendEmail", mock.Anything, EmailMessage{
		To:       "driver7@example.com",
		Subject:  "Subject line",
		TextBody: "Body text",
		Tag:      string(model.KindLoadAssigned),
	}).Return("pm-77", nil)

	res, err := NewEmailBackend(mailer).Send(context.Background(), &Message{
		Notification: testNotification(),
		Content:      model.StringMap{"title": "Title", "subject": "Subject line", "body": "Body text"},
		Recipient:    Recipient{Email: "driver7@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pm-77", res.ProviderMessageID)
	mailer.AssertExpectations(t)
}

type stubBroadcaster struct {
	live bool
	got  *model.Notification
}

func (s *stubBroadcaster) Broadcast(_ context.Context, n *model.Notification) (bool, error) {
	s.got = n
	return s.live, nil
}

func TestInAppBackend(t *testing.T) {
	b := &stubBroadcaster{live: true}
	res, err := NewInAppBackend(b).Send(context.Background(), &Message{
		Notification: testNotification(),
		Content:      model.StringMap{"body": "rendered"},
	})
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, "rendered", b.got.Content["body"])

	b.live = false
	res, err = NewInAppBackend(b).Send(context.Background(), &Message{Notification: testNotification()})
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
}

func TestNewMailers_RequireConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{})
	assert.Error(t, err)
	_, err = NewPostmarkMailer(PostmarkConfig{From: "a@b.co"})
	assert.Error(t, err)

	pm, err := NewPostmarkMailer(PostmarkConfig{ServerToken: "t", From: "ops@freightlane.io"})
	require.NoError(t, err)
	assert.NotNil(t, pm)
}
