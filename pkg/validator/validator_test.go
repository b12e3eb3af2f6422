package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/freightlane/notify-api/pkg/errors"
)

type sample struct {
	UserID   string   `json:"user_id" validate:"required"`
	Kind     string   `json:"notification_kind" validate:"required,notification_kind"`
	Channels []string `json:"channels" validate:"omitempty,dive,channel"`
	Priority string   `json:"priority" validate:"omitempty,priority"`
	Start    string   `json:"start" validate:"omitempty,clock"`
	Zone     string   `json:"timezone" validate:"omitempty,timezone"`
}

func TestStruct_Valid(t *testing.T) {
	v := New()
	err := v.Struct(sample{
		UserID:   "u1",
		Kind:     "load_opportunity",
		Channels: []string{"email", "push"},
		Priority: "HIGH",
		Start:    "08:00",
		Zone:     "America/Chicago",
	})
	assert.NoError(t, err)
}

func TestStruct_ReportsJSONFieldNames(t *testing.T) {
	v := New()
	err := v.Struct(sample{Kind: "nope", Channels: []string{"fax"}, Priority: "URGENT", Start: "25:99"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
	assert.Contains(t, err.Error(), "user_id")
	assert.Contains(t, err.Error(), "notification_kind")
	assert.Contains(t, err.Error(), "channels[0]")
	assert.Contains(t, err.Error(), "priority")
	assert.Contains(t, err.Error(), "start")
}
