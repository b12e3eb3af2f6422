package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to NotificationStatus
		want     bool
	}{
		{NotificationStatusPending, NotificationStatusSent, true},
		{NotificationStatusPending, NotificationStatusDelivered, true},
		{NotificationStatusPending, NotificationStatusFailed, true},
		{NotificationStatusPending, NotificationStatusCancelled, true},
		{NotificationStatusSent, NotificationStatusDelivered, true},
		{NotificationStatusFailed, NotificationStatusPending, true},
		{NotificationStatusSent, NotificationStatusPending, false},
		{NotificationStatusSent, NotificationStatusCancelled, false},
		{NotificationStatusDelivered, NotificationStatusSent, false},
		{NotificationStatusCancelled, NotificationStatusPending, false},
		{NotificationStatusSkipped, NotificationStatusSent, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionTo_CancelRequiresSchedule(t *testing.T) {
	now := time.Now()
	n := &Notification{Status: NotificationStatusPending}
	err := n.TransitionTo(NotificationStatusCancelled, now)
	require.ErrorIs(t, err, ErrInvalidTransition)

	n.ScheduledFor = &now
	require.NoError(t, n.TransitionTo(NotificationStatusCancelled, now))
	assert.Equal(t, NotificationStatusCancelled, n.Status)
}

func TestTransitionTo_StampsTimestamps(t *testing.T) {
	now := time.Now()
	n := &Notification{Status: NotificationStatusPending}
	require.NoError(t, n.TransitionTo(NotificationStatusDelivered, now))
	require.NotNil(t, n.SentAt)
	require.NotNil(t, n.DeliveredAt)
	assert.Equal(t, now, *n.DeliveredAt)
}

func TestBetterOutcome(t *testing.T) {
	assert.Equal(t, NotificationStatusDelivered, BetterOutcome(NotificationStatusSent, NotificationStatusDelivered))
	assert.Equal(t, NotificationStatusSent, BetterOutcome(NotificationStatusSent, NotificationStatusFailed))
	assert.Equal(t, NotificationStatusFailed, BetterOutcome(NotificationStatusSkipped, NotificationStatusFailed))
	assert.Equal(t, NotificationStatusSkipped, BetterOutcome("", NotificationStatusSkipped))
}

func TestMarkRead_SetsReadAt(t *testing.T) {
	n := &Notification{}
	at := time.Now()
	n.MarkRead(at)
	assert.True(t, n.Read)
	require.NotNil(t, n.ReadAt)
	assert.Equal(t, at, *n.ReadAt)
}

func TestRetryCountAndErrors(t *testing.T) {
	n := &Notification{Data: JSONMap{DataKeyRetryCount: float64(2)}}
	assert.Equal(t, 2, n.RetryCount())
	n.SetRetryCount(3)
	assert.Equal(t, 3, n.RetryCount())

	n.MergeChannelError(ChannelEmail, "smtp down")
	n.MergeChannelError(ChannelPush, "no tokens")
	errs := n.Data[DataKeyError].(map[string]interface{})
	assert.Equal(t, "smtp down", errs["email"])
	assert.Equal(t, "no tokens", errs["push"])
}

func TestExplicitChannels_FromJSON(t *testing.T) {
	n := &Notification{Data: JSONMap{DataKeyChannels: []interface{}{"email", "sms"}}}
	assert.Equal(t, ChannelList{ChannelEmail, ChannelSMS}, n.ExplicitChannels())
}

func TestTimeWindowMinutes(t *testing.T) {
	start, end, err := TimeWindow{Start: "08:30", End: "22:00"}.Minutes()
	require.NoError(t, err)
	assert.Equal(t, 510, start)
	assert.Equal(t, 1320, end)

	_, _, err = TimeWindow{Start: "8am", End: "22:00"}.Minutes()
	assert.Error(t, err)
}

func TestKindDefaults(t *testing.T) {
	assert.Equal(t, ChannelList{ChannelPush, ChannelEmail, ChannelInApp}, KindSystemAlert.DefaultChannels())
	assert.Equal(t, ChannelList{ChannelInApp}, KindLoadStatusUpdate.DefaultChannels())
	assert.False(t, NotificationKind("bogus").Valid())
	assert.Equal(t, "Load opportunity", KindLoadOpportunity.Title())
}

func TestJSONMapScan(t *testing.T) {
	var m JSONMap
	require.NoError(t, m.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, float64(1), m["a"])
	require.NoError(t, m.Scan(nil))
	assert.Empty(t, m)
}

func TestDeliveryStatusTracking(t *testing.T) {
	n := &Notification{}
	n.SetDeliveryStatus(ChannelSMS, NotificationStatusFailed)
	n.SetDeliveryStatus(ChannelEmail, NotificationStatusFailed)
	n.SetDeliveryStatus(ChannelInApp, NotificationStatusSent)

	assert.Equal(t, ChannelList{ChannelEmail, ChannelSMS}, n.ChannelsWithStatus(NotificationStatusFailed))
	assert.Equal(t, ChannelList{ChannelInApp}, n.ChannelsWithStatus(NotificationStatusSent))

	n.MergeChannelError(ChannelSMS, "gateway down")
	n.ClearChannelError(ChannelSMS)
	assert.NotContains(t, n.Data, DataKeyError)
}

func TestJSONMapCloneIsDeep(t *testing.T) {
	src := JSONMap{"error": map[string]interface{}{"sms": "x"}, "tags": []interface{}{"a"}}
	dst := src.Clone()
	dst["error"].(map[string]interface{})["email"] = "y"
	dst["tags"].([]interface{})[0] = "b"

	assert.Len(t, src["error"], 1)
	assert.Equal(t, "a", src["tags"].([]interface{})[0])
}
