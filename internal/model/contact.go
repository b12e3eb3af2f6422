package model

import (
	"database/sql/driver"
	"time"

	"github.com/lib/pq"
)

// StringList is a text[] column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return pq.StringArray(l).Value()
}

func (l *StringList) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*l = StringList(arr)
	return nil
}

// RecipientContact holds the per-channel addresses for a user.
type RecipientContact struct {
	UserID       string     `json:"user_id" db:"user_id"`
	UserType     UserType   `json:"user_type" db:"user_type"`
	Email        string     `json:"email,omitempty" db:"email"`
	Phone        string     `json:"phone,omitempty" db:"phone"`
	DeviceTokens StringList `json:"device_tokens,omitempty" db:"device_tokens"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}
