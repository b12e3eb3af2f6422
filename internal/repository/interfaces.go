package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/freightlane/notify-api/internal/model"
)

var (
	// ErrNotFound is returned by every store when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write would break a uniqueness rule.
	ErrConflict = errors.New("record conflicts with an existing one")
	// ErrInactive is returned when an inactive row is promoted to default.
	ErrInactive = errors.New("record is inactive")
)

// All repository interfaces in one file
type (
	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		Update(ctx context.Context, n *model.Notification) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.NotificationFilter) ([]*model.Notification, int64, error)
		MarkAllAsRead(ctx context.Context, userID string, userType model.UserType, at time.Time) (int64, error)
		CountUnread(ctx context.Context, userID string, userType model.UserType) (int64, error)
		// CountSince counts records of a kind created for a user after since.
		CountSince(ctx context.Context, userID string, userType model.UserType, kind model.NotificationKind, since time.Time) (int64, error)
		Stats(ctx context.Context, userID string, userType model.UserType) (*model.NotificationStats, error)
		// ClaimDue leases PENDING rows whose scheduled_for is at or before now. A leased
		// row is skipped by other sweeps until now+lease, or until an update moves
		// it out of PENDING.
		ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.Notification, error)
		// ClaimRetryable leases FAILED rows created after since whose retry counter is
		// below maxRetries.
		ClaimRetryable(ctx context.Context, now time.Time, lease time.Duration, maxRetries int, since time.Time, limit int) ([]*model.Notification, error)
		DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	}

	PreferenceRepository interface {
		Get(ctx context.Context, userID string, userType model.UserType, kind model.NotificationKind) (*model.Preference, error)
		// CreateIfAbsent inserts p unless a row for the same key exists, and returns the stored row.
		CreateIfAbsent(ctx context.Context, p *model.Preference) (*model.Preference, error)
		Upsert(ctx context.Context, p *model.Preference) error
		List(ctx context.Context, userID string, userType model.UserType) ([]*model.Preference, error)
	}

	TemplateRepository interface {
		Create(ctx context.Context, t *model.Template) error
		Get(ctx context.Context, id uuid.UUID) (*model.Template, error)
		Update(ctx context.Context, t *model.Template) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filter model.TemplateFilter) ([]*model.Template, error)
		GetDefault(ctx context.Context, key model.TemplateKey) (*model.Template, error)
		// CreateDefaultIfAbsent inserts t as the default for its key unless one exists,
		// and returns whichever default is stored.
		CreateDefaultIfAbsent(ctx context.Context, t *model.Template) (*model.Template, error)
		// SetDefault clears the current default for the template's key and promotes id
		// in one transaction.
		SetDefault(ctx context.Context, id uuid.UUID) (*model.Template, error)
	}

	ContactRepository interface {
		Get(ctx context.Context, userID string, userType model.UserType) (*model.RecipientContact, error)
		Upsert(ctx context.Context, c *model.RecipientContact) error
		AddDeviceToken(ctx context.Context, userID string, userType model.UserType, token string) error
		RemoveDeviceToken(ctx context.Context, userID string, userType model.UserType, token string) error
	}
)
