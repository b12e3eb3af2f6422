package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightlane/notify-api/internal/model"
)

func TestWhereClause(t *testing.T) {
	where, args := whereClause(model.NotificationFilter{})
	assert.Empty(t, where)
	assert.Empty(t, args)

	unread := false
	where, args = whereClause(model.NotificationFilter{
		UserID:   "u-1",
		UserType: model.UserTypeDriver,
		Status:   model.NotificationStatusFailed,
		Read:     &unread,
	})
	assert.Equal(t, " WHERE user_id = $1 AND user_type = $2 AND status = $3 AND read = $4", where)
	assert.Equal(t, []interface{}{"u-1", model.UserTypeDriver, model.NotificationStatusFailed, false}, args)
}

func TestPreferenceRowRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pref := model.DefaultPreference("u-1", model.UserTypeCarrier, model.KindSystemAlert, now)
	pref.TimeWindow = &model.TimeWindow{Start: "08:00", End: "20:00", Timezone: "America/Chicago"}

	row, err := toPreferenceRow(pref)
	require.NoError(t, err)

	back, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, pref, back)

	pref.TimeWindow = nil
	row, err = toPreferenceRow(pref)
	require.NoError(t, err)
	assert.Nil(t, row.TimeWindow)
	back, err = row.toModel()
	require.NoError(t, err)
	assert.Nil(t, back.TimeWindow)
}
