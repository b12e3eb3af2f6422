package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freightlane/notify-api/internal/channel"
	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
	"github.com/freightlane/notify-api/internal/service/preference"
	"github.com/freightlane/notify-api/internal/service/template"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/metrics"
	"github.com/freightlane/notify-api/pkg/validator"
)

var (
	ErrCannotCancel = errors.New("only pending scheduled notifications can be cancelled")
	ErrNoChannels   = errors.New("no deliverable channels")
)

// Dispatcher is the slice of channel.Dispatcher the orchestrator drives.
type Dispatcher interface {
	IsAvailable(ch model.Channel) bool
	Send(ctx context.Context, n *model.Notification, tpl *model.Template, ch model.Channel, contact *model.RecipientContact) channel.Outcome
	SendToTopic(ctx context.Context, topic string, n *model.Notification, tpl *model.Template) channel.Outcome
}

type Service interface {
	Create(ctx context.Context, req *CreateRequest) (*model.Notification, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	List(ctx context.Context, filter model.NotificationFilter) ([]*model.Notification, int64, error)
	// MarkAsRead marks one record read. A non-empty userID must own the record.
	MarkAsRead(ctx context.Context, id uuid.UUID, userID string, userType model.UserType) (*model.Notification, error)
	MarkAllAsRead(ctx context.Context, userID string, userType model.UserType) (int64, error)
	Delete(ctx context.Context, id uuid.UUID, userID string, userType model.UserType) error
	UnreadCount(ctx context.Context, userID string, userType model.UserType) (int64, error)
	Statistics(ctx context.Context, userID string, userType model.UserType) (*model.NotificationStats, error)

	Send(ctx context.Context, req *SendRequest) (*SendResult, error)
	DetermineChannels(ctx context.Context, env *Envelope) (model.ChannelList, error)
	SendBulk(ctx context.Context, req *BulkRequest) (*BulkResult, error)
	SendTopic(ctx context.Context, req *TopicRequest) (bool, error)

	Schedule(ctx context.Context, req *ScheduleRequest) (*model.Notification, error)
	CancelScheduled(ctx context.Context, id uuid.UUID) (*model.Notification, error)
	ProcessDue(ctx context.Context) (*RunStats, error)
	RetryFailed(ctx context.Context, maxRetries int, maxAge time.Duration) (*RunStats, error)
	CleanupOld(ctx context.Context, daysToKeep int) (int64, error)
}

type Config struct {
	// MaxWorkers bounds concurrent channel and recipient sends.
	MaxWorkers     int
	SchedulerBatch int
	RetryBatch     int
	// ClaimTTL is how long a sweep holds the rows it picked up.
	ClaimTTL time.Duration
}

type service struct {
	repo        repository.NotificationRepository
	contacts    repository.ContactRepository
	preferences preference.Service
	templates   template.Service
	dispatcher  Dispatcher
	config      Config
	validate    *validator.Validator
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(
	repo repository.NotificationRepository,
	contacts repository.ContactRepository,
	preferences preference.Service,
	templates template.Service,
	dispatcher Dispatcher,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) Service {
	return newService(repo, contacts, preferences, templates, dispatcher, config, logger, metrics, time.Now)
}

func newService(
	repo repository.NotificationRepository,
	contacts repository.ContactRepository,
	preferences preference.Service,
	templates template.Service,
	dispatcher Dispatcher,
	config Config,
	logger *logger.Logger,
	metrics *metrics.Metrics,
	now func() time.Time,
) *service {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 8
	}
	if config.SchedulerBatch <= 0 {
		config.SchedulerBatch = 100
	}
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = 10 * time.Minute
	}
	if config.RetryBatch <= 0 {
		config.RetryBatch = 100
	}
	return &service{
		repo:        repo,
		contacts:    contacts,
		preferences: preferences,
		templates:   templates,
		dispatcher:  dispatcher,
		config:      config,
		validate:    validator.Default(),
		logger:      logger.With("notification"),
		metrics:     metrics,
		now:         now,
	}
}

// newRecord builds a PENDING record from env. Reserved data keys are written last
// so callers cannot spoof them.
func (s *service) newRecord(env *Envelope) *model.Notification {
	now := s.now()
	data := model.JSONMap{}
	for k, v := range env.Data {
		data[k] = v
	}
	delete(data, model.DataKeyError)
	delete(data, model.DataKeyRetryCount)
	delete(data, model.DataKeyDeliveries)

	if env.Locale != "" {
		data[model.DataKeyLocale] = env.Locale
	}
	if env.TemplateID != nil {
		data[model.DataKeyTemplateID] = env.TemplateID.String()
	}

	priority := env.Priority
	if priority == "" {
		priority = model.PriorityMedium
	}

	return &model.Notification{
		ID:               uuid.New(),
		UserID:           env.UserID,
		UserType:         env.UserType,
		NotificationKind: env.NotificationKind,
		Content:          model.StringMap{},
		Data:             data,
		Status:           model.NotificationStatusPending,
		Priority:         priority,
		ReferenceID:      env.ReferenceID,
		ReferenceType:    env.ReferenceType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *service) Create(ctx context.Context, req *CreateRequest) (*model.Notification, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	n := s.newRecord(&req.Envelope)
	n.Channel = req.Channel
	if n.Channel == "" {
		n.Channel = model.ChannelInApp
	}
	for k, v := range req.Content {
		n.Content[k] = v
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	s.metrics.NotificationsCreated.WithLabelValues(string(n.NotificationKind)).Inc()
	return n, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("notification", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

// getOwned loads id and hides records that belong to someone else.
func (s *service) getOwned(ctx context.Context, id uuid.UUID, userID string, userType model.UserType) (*model.Notification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != "" && (n.UserID != userID || (userType != "" && n.UserType != userType)) {
		return nil, apperrors.NotFound("notification", nil)
	}
	return n, nil
}

func (s *service) List(ctx context.Context, filter model.NotificationFilter) ([]*model.Notification, int64, error) {
	filter.Pagination = filter.Pagination.Normalize()
	return s.repo.List(ctx, filter)
}

func (s *service) MarkAsRead(ctx context.Context, id uuid.UUID, userID string, userType model.UserType) (*model.Notification, error) {
	n, err := s.getOwned(ctx, id, userID, userType)
	if err != nil {
		return nil, err
	}
	if n.Read {
		return n, nil
	}
	n.MarkRead(s.now())
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return n, nil
}

func (s *service) MarkAllAsRead(ctx context.Context, userID string, userType model.UserType) (int64, error) {
	if userID == "" {
		return 0, apperrors.BadRequest("user_id is required", nil)
	}
	return s.repo.MarkAllAsRead(ctx, userID, userType, s.now())
}

func (s *service) Delete(ctx context.Context, id uuid.UUID, userID string, userType model.UserType) error {
	if _, err := s.getOwned(ctx, id, userID, userType); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

func (s *service) UnreadCount(ctx context.Context, userID string, userType model.UserType) (int64, error) {
	return s.repo.CountUnread(ctx, userID, userType)
}

func (s *service) Statistics(ctx context.Context, userID string, userType model.UserType) (*model.NotificationStats, error) {
	return s.repo.Stats(ctx, userID, userType)
}
