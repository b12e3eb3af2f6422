package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
)

const preferenceColumns = `id, user_id, user_type, notification_kind, channels, enabled, frequency,
	time_window, created_at, updated_at`

// preferenceRow is the storage shape of model.Preference.
type preferenceRow struct {
	ID               uuid.UUID              `db:"id"`
	UserID           string                 `db:"user_id"`
	UserType         model.UserType         `db:"user_type"`
	NotificationKind model.NotificationKind `db:"notification_kind"`
	Channels         model.ChannelList      `db:"channels"`
	Enabled          bool                   `db:"enabled"`
	Frequency        []byte                 `db:"frequency"`
	TimeWindow       []byte                 `db:"time_window"`
	CreatedAt        time.Time              `db:"created_at"`
	UpdatedAt        time.Time              `db:"updated_at"`
}

func toPreferenceRow(p *model.Preference) (*preferenceRow, error) {
	freq, err := json.Marshal(p.Frequency)
	if err != nil {
		return nil, err
	}
	row := &preferenceRow{
		ID:               p.ID,
		UserID:           p.UserID,
		UserType:         p.UserType,
		NotificationKind: p.NotificationKind,
		Channels:         p.Channels,
		Enabled:          p.Enabled,
		Frequency:        freq,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if row.Channels == nil {
		row.Channels = model.ChannelList{}
	}
	if p.TimeWindow != nil {
		if row.TimeWindow, err = json.Marshal(p.TimeWindow); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (row *preferenceRow) toModel() (*model.Preference, error) {
	p := &model.Preference{
		ID:               row.ID,
		UserID:           row.UserID,
		UserType:         row.UserType,
		NotificationKind: row.NotificationKind,
		Channels:         row.Channels,
		Enabled:          row.Enabled,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if len(row.Frequency) > 0 {
		if err := json.Unmarshal(row.Frequency, &p.Frequency); err != nil {
			return nil, fmt.Errorf("invalid frequency for preference %s: %w", row.ID, err)
		}
	}
	if len(row.TimeWindow) > 0 {
		var w model.TimeWindow
		if err := json.Unmarshal(row.TimeWindow, &w); err != nil {
			return nil, fmt.Errorf("invalid time window for preference %s: %w", row.ID, err)
		}
		p.TimeWindow = &w
	}
	return p, nil
}

type preferenceRepository struct {
	*BaseRepository
}

func NewPreferenceRepository(base *BaseRepository) repository.PreferenceRepository {
	return &preferenceRepository{BaseRepository: base}
}

func (r *preferenceRepository) Get(ctx context.Context, userID string, userType model.UserType, kind model.NotificationKind) (*model.Preference, error) {
	var row preferenceRow
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences
		WHERE user_id = $1 AND user_type = $2 AND notification_kind = $3`
	if err := r.db.GetContext(ctx, &row, query, userID, userType, kind); err != nil {
		return nil, notFoundOr(err)
	}
	return row.toModel()
}

func (r *preferenceRepository) CreateIfAbsent(ctx context.Context, p *model.Preference) (*model.Preference, error) {
	row, err := toPreferenceRow(p)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO notification_preferences (` + preferenceColumns + `)
		VALUES (:id, :user_id, :user_type, :notification_kind, :channels, :enabled, :frequency,
			:time_window, :created_at, :updated_at)
		ON CONFLICT (user_id, user_type, notification_kind) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return nil, fmt.Errorf("failed to create preference: %w", err)
	}
	// A concurrent first access may have won the insert; return what is stored.
	return r.Get(ctx, p.UserID, p.UserType, p.NotificationKind)
}

func (r *preferenceRepository) Upsert(ctx context.Context, p *model.Preference) error {
	row, err := toPreferenceRow(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notification_preferences (` + preferenceColumns + `)
		VALUES (:id, :user_id, :user_type, :notification_kind, :channels, :enabled, :frequency,
			:time_window, :created_at, :updated_at)
		ON CONFLICT (user_id, user_type, notification_kind) DO UPDATE SET
			channels = EXCLUDED.channels,
			enabled = EXCLUDED.enabled,
			frequency = EXCLUDED.frequency,
			time_window = EXCLUDED.time_window,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}
	return nil
}

func (r *preferenceRepository) List(ctx context.Context, userID string, userType model.UserType) ([]*model.Preference, error) {
	var rows []preferenceRow
	query := `SELECT ` + preferenceColumns + ` FROM notification_preferences
		WHERE user_id = $1 AND user_type = $2 ORDER BY notification_kind`
	if err := r.db.SelectContext(ctx, &rows, query, userID, userType); err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}

	prefs := make([]*model.Preference, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, nil
}
