package postgres

import (
	"context"
	"fmt"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
)

type contactRepository struct {
	*BaseRepository
}

func NewContactRepository(base *BaseRepository) repository.ContactRepository {
	return &contactRepository{BaseRepository: base}
}

func (r *contactRepository) Get(ctx context.Context, userID string, userType model.UserType) (*model.RecipientContact, error) {
	var c model.RecipientContact
	err := r.db.GetContext(ctx, &c, `
		SELECT user_id, user_type, email, phone, device_tokens, updated_at
		FROM notification_contacts WHERE user_id = $1 AND user_type = $2`, userID, userType)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return &c, nil
}

func (r *contactRepository) Upsert(ctx context.Context, c *model.RecipientContact) error {
	if c.DeviceTokens == nil {
		c.DeviceTokens = model.StringList{}
	}
	query := `
		INSERT INTO notification_contacts (user_id, user_type, email, phone, device_tokens, updated_at)
		VALUES (:user_id, :user_type, :email, :phone, :device_tokens, :updated_at)
		ON CONFLICT (user_id, user_type) DO UPDATE SET
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			device_tokens = EXCLUDED.device_tokens,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, c); err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}

func (r *contactRepository) AddDeviceToken(ctx context.Context, userID string, userType model.UserType, token string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notification_contacts (user_id, user_type, device_tokens, updated_at)
		VALUES ($1, $2, ARRAY[$3::text], NOW())
		ON CONFLICT (user_id, user_type) DO UPDATE SET
			device_tokens = CASE
				WHEN $3 = ANY(notification_contacts.device_tokens) THEN notification_contacts.device_tokens
				ELSE array_append(notification_contacts.device_tokens, $3)
			END,
			updated_at = NOW()`, userID, userType, token)
	if err != nil {
		return fmt.Errorf("failed to add device token: %w", err)
	}
	return nil
}

func (r *contactRepository) RemoveDeviceToken(ctx context.Context, userID string, userType model.UserType, token string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_contacts
		SET device_tokens = array_remove(device_tokens, $3), updated_at = NOW()
		WHERE user_id = $1 AND user_type = $2`, userID, userType, token)
	if err != nil {
		return fmt.Errorf("failed to remove device token: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
