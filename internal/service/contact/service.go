package contact

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/validator"
)

// Service manages the addresses channels deliver to.
type Service interface {
	Get(ctx context.Context, userID string, userType model.UserType) (*model.RecipientContact, error)
	Upsert(ctx context.Context, req *UpsertRequest) (*model.RecipientContact, error)
	AddDevice(ctx context.Context, userID string, userType model.UserType, token string) error
	RemoveDevice(ctx context.Context, userID string, userType model.UserType, token string) error
}

type UpsertRequest struct {
	UserID   string         `json:"user_id" validate:"required,max=128"`
	UserType model.UserType `json:"user_type" validate:"required,user_type"`
	Email    string         `json:"email" validate:"omitempty,email"`
	Phone    string         `json:"phone" validate:"omitempty,e164"`
}

type service struct {
	repo     repository.ContactRepository
	validate *validator.Validator
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(repo repository.ContactRepository, logger *logger.Logger) Service {
	return &service{
		repo:     repo,
		validate: validator.Default(),
		logger:   logger.With("contact"),
		now:      time.Now,
	}
}

func (s *service) Get(ctx context.Context, userID string, userType model.UserType) (*model.RecipientContact, error) {
	c, err := s.repo.Get(ctx, userID, userType)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("contact", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// Upsert replaces the email and phone. Device tokens are kept.
func (s *service) Upsert(ctx context.Context, req *UpsertRequest) (*model.RecipientContact, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	c, err := s.repo.Get(ctx, req.UserID, req.UserType)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c = &model.RecipientContact{UserID: req.UserID, UserType: req.UserType}
	case err != nil:
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	c.Email = req.Email
	c.Phone = req.Phone
	c.UpdatedAt = s.now()

	if err := s.repo.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to save contact: %w", err)
	}
	return c, nil
}

func (s *service) AddDevice(ctx context.Context, userID string, userType model.UserType, token string) error {
	if token == "" || len(token) > 4096 {
		return apperrors.BadRequest("device token is required", nil)
	}
	if err := s.repo.AddDeviceToken(ctx, userID, userType, token); err != nil {
		return fmt.Errorf("failed to add device token: %w", err)
	}
	s.logger.Debug("Device token registered", "user_id", userID)
	return nil
}

func (s *service) RemoveDevice(ctx context.Context, userID string, userType model.UserType, token string) error {
	err := s.repo.RemoveDeviceToken(ctx, userID, userType, token)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound("device token", err)
	}
	if err != nil {
		return fmt.Errorf("failed to remove device token: %w", err)
	}
	return nil
}
