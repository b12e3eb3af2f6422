package preference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/validator"
)

const (
	defaultCacheTTL = 5 * time.Minute
	cleanupInterval = 10 * time.Minute
)

// Service resolves and manages per-user channel preferences.
type Service interface {
	// Resolve returns the stored preference, creating and persisting the default
	// one on first access.
	Resolve(ctx context.Context, userID string, userType model.UserType, kind model.NotificationKind) (*model.Preference, error)
	// IsWithinQuietHours reports whether now falls inside the preference's delivery
	// window. A preference without a window is always inside it.
	IsWithinQuietHours(pref *model.Preference) bool
	ShouldDeliver(pref *model.Preference, channel model.Channel) bool
	List(ctx context.Context, userID string, userType model.UserType) ([]*model.Preference, error)
	Update(ctx context.Context, req *UpdateRequest) (*model.Preference, error)
	// HandleInvalidation evicts the cached preference named by a bus message.
	HandleInvalidation(ctx context.Context, raw []byte) error
}

type UpdateRequest struct {
	UserID           string                 `json:"user_id" validate:"required"`
	UserType         model.UserType         `json:"user_type" validate:"required,user_type"`
	NotificationKind model.NotificationKind `json:"notification_kind" validate:"required,notification_kind"`
	Channels         []string               `json:"channels" validate:"omitempty,dive,channel"`
	Enabled          *bool                  `json:"enabled"`
	Frequency        *FrequencyRequest      `json:"frequency"`
	TimeWindow       *TimeWindowRequest     `json:"time_window"`
	// ClearTimeWindow removes any stored window.
	ClearTimeWindow bool `json:"clear_time_window"`
}

type FrequencyRequest struct {
	Type      string `json:"type" validate:"required,oneof=immediate digest"`
	MaxPerDay int    `json:"max_per_day" validate:"gte=0"`
}

type TimeWindowRequest struct {
	Start    string `json:"start" validate:"required,clock"`
	End      string `json:"end" validate:"required,clock"`
	Timezone string `json:"timezone" validate:"omitempty,timezone"`
}

type Config struct {
	CacheTTL time.Duration
	// Bus, when set, receives an invalidation after every update.
	Bus Publisher
}

type service struct {
	repo     repository.PreferenceRepository
	bus      Publisher
	cache    *cache.Cache
	validate *validator.Validator
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(repo repository.PreferenceRepository, cfg Config, logger *logger.Logger) Service {
	return newService(repo, cfg, logger, time.Now)
}

func newService(repo repository.PreferenceRepository, cfg Config, logger *logger.Logger, now func() time.Time) *service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	return &service{
		repo:     repo,
		bus:      cfg.Bus,
		cache:    cache.New(cfg.CacheTTL, cleanupInterval),
		validate: validator.Default(),
		logger:   logger.With("preference"),
		now:      now,
	}
}

func cacheKey(userID string, userType model.UserType, kind model.NotificationKind) string {
	return string(userType) + ":" + userID + ":" + string(kind)
}

func (s *service) Resolve(ctx context.Context, userID string, userType model.UserType, kind model.NotificationKind) (*model.Preference, error) {
	if userID == "" {
		return nil, apperrors.BadRequest("user_id is required", nil)
	}
	if !userType.Valid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown user type %q", userType), nil)
	}
	if !kind.Valid() {
		return nil, apperrors.BadRequest(fmt.Sprintf("unknown notification kind %q", kind), nil)
	}

	key := cacheKey(userID, userType, kind)
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.Preference), nil
	}

	pref, err := s.repo.Get(ctx, userID, userType, kind)
	if errors.Is(err, repository.ErrNotFound) {
		pref, err = s.repo.CreateIfAbsent(ctx, model.DefaultPreference(userID, userType, kind, s.now()))
		if err == nil {
			s.logger.Debug("Created default preference", "user_id", userID, "user_type", userType, "kind", kind)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve preference: %w", err)
	}

	s.cache.SetDefault(key, pref)
	return pref, nil
}

func (s *service) IsWithinQuietHours(pref *model.Preference) bool {
	if pref == nil || pref.TimeWindow == nil {
		return true
	}
	start, end, err := pref.TimeWindow.Minutes()
	if err != nil {
		s.logger.Warn("Ignoring malformed time window", "preference_id", pref.ID.String(), "error", err.Error())
		return true
	}
	return minuteInWindow(s.now().In(pref.TimeWindow.Location()), start, end)
}

// minuteInWindow reports whether t's minute-of-day lies in [start, end], wrapping
// past midnight when end < start.
func minuteInWindow(t time.Time, start, end int) bool {
	m := t.Hour()*60 + t.Minute()
	if start <= end {
		return m >= start && m <= end
	}
	return m >= start || m <= end
}

func (s *service) ShouldDeliver(pref *model.Preference, channel model.Channel) bool {
	if pref == nil || !pref.Enabled {
		return false
	}
	if !pref.Channels.Contains(channel) {
		return false
	}
	return s.IsWithinQuietHours(pref)
}

func (s *service) List(ctx context.Context, userID string, userType model.UserType) ([]*model.Preference, error) {
	prefs, err := s.repo.List(ctx, userID, userType)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	return prefs, nil
}

func (s *service) Update(ctx context.Context, req *UpdateRequest) (*model.Preference, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	pref, err := s.Resolve(ctx, req.UserID, req.UserType, req.NotificationKind)
	if err != nil {
		return nil, err
	}
	// work on a copy so a failed write leaves the cached value intact
	updated := *pref

	if req.Channels != nil {
		updated.Channels = model.ParseChannelList(req.Channels).Dedup()
	}
	if req.Enabled != nil {
		updated.Enabled = *req.Enabled
	}
	if req.Frequency != nil {
		updated.Frequency = model.Frequency{Type: req.Frequency.Type, MaxPerDay: req.Frequency.MaxPerDay}
	}
	switch {
	case req.ClearTimeWindow:
		updated.TimeWindow = nil
	case req.TimeWindow != nil:
		updated.TimeWindow = &model.TimeWindow{
			Start:    req.TimeWindow.Start,
			End:      req.TimeWindow.End,
			Timezone: req.TimeWindow.Timezone,
		}
	}
	updated.UpdatedAt = s.now()

	if err := s.repo.Upsert(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update preference: %w", err)
	}

	s.cache.Delete(cacheKey(req.UserID, req.UserType, req.NotificationKind))
	s.announce(ctx, &updated)
	s.logger.Info("Preference updated", "user_id", req.UserID, "kind", req.NotificationKind)
	return &updated, nil
}
