package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
)

const templateColumns = `id, name, notification_kind, channel, content, variables, locale,
	is_default, is_active, created_at, updated_at`

const templateInsert = `
	INSERT INTO notification_templates (` + templateColumns + `)
	VALUES (:id, :name, :notification_kind, :channel, :content, :variables, :locale,
		:is_default, :is_active, :created_at, :updated_at)`

type templateRepository struct {
	*BaseRepository
}

func NewTemplateRepository(base *BaseRepository) repository.TemplateRepository {
	return &templateRepository{BaseRepository: base}
}

func (r *templateRepository) Create(ctx context.Context, t *model.Template) error {
	if t.Variables == nil {
		t.Variables = model.StringList{}
	}
	if _, err := r.db.NamedExecContext(ctx, templateInsert, t); err != nil {
		if conflictOr(err) == repository.ErrConflict {
			return repository.ErrConflict
		}
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *templateRepository) Get(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	var t model.Template
	query := `SELECT ` + templateColumns + ` FROM notification_templates WHERE id = $1`
	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, notFoundOr(err)
	}
	return &t, nil
}

// Update writes the editable fields. is_default only changes through SetDefault.
func (r *templateRepository) Update(ctx context.Context, t *model.Template) error {
	if t.Variables == nil {
		t.Variables = model.StringList{}
	}
	query := `
		UPDATE notification_templates SET
			name = :name, content = :content, variables = :variables,
			is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, t)
	if err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *templateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notification_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *templateRepository) List(ctx context.Context, filter model.TemplateFilter) ([]*model.Template, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.NotificationKind != "" {
		add("notification_kind = $%d", filter.NotificationKind)
	}
	if filter.Channel != "" {
		add("channel = $%d", filter.Channel)
	}
	if filter.Locale != "" {
		add("locale = $%d", filter.Locale)
	}
	if filter.ActiveOnly {
		conds = append(conds, "is_active")
	}

	query := `SELECT ` + templateColumns + ` FROM notification_templates`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY notification_kind, channel, locale, created_at"

	templates := []*model.Template{}
	if err := r.db.SelectContext(ctx, &templates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return templates, nil
}

func (r *templateRepository) GetDefault(ctx context.Context, key model.TemplateKey) (*model.Template, error) {
	var t model.Template
	query := `SELECT ` + templateColumns + ` FROM notification_templates
		WHERE notification_kind = $1 AND channel = $2 AND locale = $3 AND is_default AND is_active`
	if err := r.db.GetContext(ctx, &t, query, key.NotificationKind, key.Channel, key.Locale); err != nil {
		return nil, notFoundOr(err)
	}
	return &t, nil
}

func (r *templateRepository) CreateDefaultIfAbsent(ctx context.Context, t *model.Template) (*model.Template, error) {
	if t.Variables == nil {
		t.Variables = model.StringList{}
	}
	t.IsDefault = true
	query := templateInsert + `
	ON CONFLICT (notification_kind, channel, locale) WHERE is_default DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, t); err != nil {
		return nil, fmt.Errorf("failed to create default template: %w", err)
	}
	return r.GetDefault(ctx, t.Key())
}

func (r *templateRepository) SetDefault(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	var promoted model.Template
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT ` + templateColumns + ` FROM notification_templates WHERE id = $1`
		if err := tx.GetContext(ctx, &promoted, query, id); err != nil {
			return notFoundOr(err)
		}

		// Promotions on the same key serialize on this lock until commit.
		lockKey := string(promoted.NotificationKind) + "/" + string(promoted.Channel) + "/" + promoted.Locale
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("failed to lock template key: %w", err)
		}
		if err := tx.GetContext(ctx, &promoted, query, id); err != nil {
			return notFoundOr(err)
		}
		if !promoted.IsActive {
			return repository.ErrInactive
		}
		if promoted.IsDefault {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE notification_templates SET is_default = FALSE, updated_at = NOW()
			WHERE notification_kind = $1 AND channel = $2 AND locale = $3 AND is_default`,
			promoted.NotificationKind, promoted.Channel, promoted.Locale); err != nil {
			return fmt.Errorf("failed to clear previous default: %w", err)
		}

		return tx.GetContext(ctx, &promoted, `
			UPDATE notification_templates SET is_default = TRUE, updated_at = NOW()
			WHERE id = $1 RETURNING `+templateColumns, id)
	})
	if err != nil {
		return nil, err
	}
	return &promoted, nil
}
