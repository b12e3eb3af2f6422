package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	FrequencyImmediate = "immediate"
	FrequencyDigest    = "digest"

	DefaultMaxPerDay = 100
)

type Frequency struct {
	Type      string `json:"type"`
	MaxPerDay int    `json:"max_per_day"`
}

// TimeWindow is the daily interval, in Timezone, during which delivery is allowed.
// Start and End are "HH:MM"; End before Start wraps past midnight.
type TimeWindow struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Minutes parses Start and End into minute-of-day values.
func (w TimeWindow) Minutes() (start, end int, err error) {
	if start, err = parseClock(w.Start); err != nil {
		return 0, 0, err
	}
	if end, err = parseClock(w.End); err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// Location resolves Timezone, falling back to UTC when unset or unknown.
func (w TimeWindow) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Preference is one user x notification-kind row.
type Preference struct {
	ID               uuid.UUID        `json:"id"`
	UserID           string           `json:"user_id"`
	UserType         UserType         `json:"user_type"`
	NotificationKind NotificationKind `json:"notification_kind"`
	Channels         ChannelList      `json:"channels"`
	Enabled          bool             `json:"enabled"`
	Frequency        Frequency        `json:"frequency"`
	TimeWindow       *TimeWindow      `json:"time_window,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// DefaultPreference synthesizes the record used when a user has none stored.
func DefaultPreference(userID string, userType UserType, kind NotificationKind, now time.Time) *Preference {
	return &Preference{
		ID:               uuid.New(),
		UserID:           userID,
		UserType:         userType,
		NotificationKind: kind,
		Channels:         kind.DefaultChannels(),
		Enabled:          true,
		Frequency:        Frequency{Type: FrequencyImmediate, MaxPerDay: DefaultMaxPerDay},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
