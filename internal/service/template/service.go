package template

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/validator"
)

// ErrDefaultTemplateDelete is returned when deleting the default template of a key.
var ErrDefaultTemplateDelete = errors.New("default template cannot be deleted; promote a replacement first")

type Service interface {
	// GetOrCreate returns the default template for the key, creating the fallback
	// template when none exists.
	GetOrCreate(ctx context.Context, kind model.NotificationKind, channel model.Channel, locale string) (*model.Template, error)
	Create(ctx context.Context, req *CreateRequest) (*model.Template, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Template, error)
	List(ctx context.Context, filter model.TemplateFilter) ([]*model.Template, error)
	Update(ctx context.Context, id uuid.UUID, req *UpdateRequest) (*model.Template, error)
	Delete(ctx context.Context, id uuid.UUID) error
	SetDefault(ctx context.Context, id uuid.UUID) (*model.Template, error)
	Render(tpl *model.Template, vars map[string]interface{}) model.StringMap
}

type CreateRequest struct {
	Name             string                 `json:"name" validate:"required,max=200"`
	NotificationKind model.NotificationKind `json:"notification_kind" validate:"required,notification_kind"`
	Channel          model.Channel          `json:"channel" validate:"required,channel"`
	Content          map[string]string      `json:"content" validate:"required,min=1"`
	Variables        []string               `json:"variables"`
	Locale           string                 `json:"locale" validate:"omitempty,bcp47_language_tag"`
	IsDefault        bool                   `json:"is_default"`
}

type UpdateRequest struct {
	Name      *string           `json:"name" validate:"omitempty,min=1,max=200"`
	Content   map[string]string `json:"content" validate:"omitempty,min=1"`
	Variables []string          `json:"variables"`
	IsActive  *bool             `json:"is_active"`
}

type service struct {
	repo     repository.TemplateRepository
	validate *validator.Validator
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(repo repository.TemplateRepository, logger *logger.Logger) Service {
	return &service{
		repo:     repo,
		validate: validator.Default(),
		logger:   logger.With("template"),
		now:      time.Now,
	}
}

func (s *service) GetOrCreate(ctx context.Context, kind model.NotificationKind, channel model.Channel, locale string) (*model.Template, error) {
	if locale == "" {
		locale = model.DefaultLocale
	}
	key := model.TemplateKey{NotificationKind: kind, Channel: channel, Locale: locale}

	tpl, err := s.repo.GetDefault(ctx, key)
	if err == nil {
		return tpl, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load default template: %w", err)
	}

	tpl, err = s.repo.CreateDefaultIfAbsent(ctx, model.FallbackTemplate(kind, channel, locale, s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback template: %w", err)
	}
	s.logger.Info("Created fallback template", "kind", kind, "channel", channel, "locale", locale)
	return tpl, nil
}

func (s *service) Create(ctx context.Context, req *CreateRequest) (*model.Template, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	if req.Content[model.ContentBody] == "" {
		return nil, apperrors.BadRequest("content.body is required", nil)
	}

	now := s.now()
	tpl := &model.Template{
		ID:               uuid.New(),
		Name:             req.Name,
		NotificationKind: req.NotificationKind,
		Channel:          req.Channel,
		Content:          model.StringMap(req.Content),
		Variables:        model.StringList(req.Variables),
		Locale:           req.Locale,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if tpl.Locale == "" {
		tpl.Locale = model.DefaultLocale
	}
	if len(tpl.Variables) == 0 {
		tpl.Variables = model.StringList(Placeholders(tpl.Content))
	}

	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	if req.IsDefault {
		return s.SetDefault(ctx, tpl.ID)
	}
	return tpl, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	tpl, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("template", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

func (s *service) List(ctx context.Context, filter model.TemplateFilter) ([]*model.Template, error) {
	return s.repo.List(ctx, filter)
}

func (s *service) Update(ctx context.Context, id uuid.UUID, req *UpdateRequest) (*model.Template, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		tpl.Name = *req.Name
	}
	if req.Content != nil {
		if req.Content[model.ContentBody] == "" {
			return nil, apperrors.BadRequest("content.body is required", nil)
		}
		tpl.Content = model.StringMap(req.Content)
		if req.Variables == nil {
			tpl.Variables = model.StringList(Placeholders(tpl.Content))
		}
	}
	if req.Variables != nil {
		tpl.Variables = model.StringList(req.Variables)
	}
	if req.IsActive != nil {
		if !*req.IsActive && tpl.IsDefault {
			return nil, apperrors.Conflict("default template cannot be deactivated", nil)
		}
		tpl.IsActive = *req.IsActive
	}
	tpl.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, tpl); err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}
	return tpl, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	tpl, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if tpl.IsDefault {
		return apperrors.Conflict("cannot delete template", ErrDefaultTemplateDelete)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

func (s *service) SetDefault(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	tpl, err := s.repo.SetDefault(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("template", err)
	}
	if errors.Is(err, repository.ErrInactive) {
		return nil, apperrors.Conflict("inactive template cannot be the default", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set default template: %w", err)
	}
	s.logger.Info("Default template promoted", "template_id", id.String(), "kind", tpl.NotificationKind, "channel", tpl.Channel)
	return tpl, nil
}

func (s *service) Render(tpl *model.Template, vars map[string]interface{}) model.StringMap {
	if tpl == nil {
		return model.StringMap{}
	}
	return Render(tpl.Content, vars)
}
