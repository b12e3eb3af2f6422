package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freightlane/notify-api/internal/model"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
)

// Schedule stores a PENDING record for later processing. Content is rendered when
// the record comes due, so none is stored now.
func (s *service) Schedule(ctx context.Context, req *ScheduleRequest) (*model.Notification, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	n := s.newRecord(&req.Envelope)
	at := req.ScheduledFor.UTC()
	n.ScheduledFor = &at
	n.Channel = model.ChannelInApp
	if len(req.Channels) > 0 {
		channels := model.ParseChannelList(req.Channels).Dedup()
		n.Data[model.DataKeyChannels] = channels.Strings()
		n.Channel = channels[0]
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to schedule notification: %w", err)
	}
	s.metrics.NotificationsCreated.WithLabelValues(string(n.NotificationKind)).Inc()
	s.logger.Info("Notification scheduled", "notification_id", n.ID.String(), "scheduled_for", at)
	return n, nil
}

func (s *service) CancelScheduled(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != model.NotificationStatusPending || n.ScheduledFor == nil {
		return nil, apperrors.Conflict(ErrCannotCancel.Error(), ErrCannotCancel)
	}
	if err := n.TransitionTo(model.NotificationStatusCancelled, s.now()); err != nil {
		return nil, apperrors.Conflict(ErrCannotCancel.Error(), err)
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to cancel notification: %w", err)
	}
	return n, nil
}

// ProcessDue sends every PENDING record whose scheduled time has passed. A failing
// row is marked FAILED and the sweep moves on.
func (s *service) ProcessDue(ctx context.Context) (*RunStats, error) {
	rows, err := s.repo.ClaimDue(ctx, s.now(), s.config.ClaimTTL, s.config.SchedulerBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due notifications: %w", err)
	}

	stats := &RunStats{}
	for _, n := range rows {
		if ctx.Err() != nil {
			break
		}
		stats.Processed++
		channels := n.ExplicitChannels()
		if len(channels) > 0 {
			channels = escalate(n.Priority, channels)
		}
		s.tally(stats, n, s.processRow(ctx, n, channels), "scheduler")
	}
	return stats, nil
}

// RetryFailed re-sends FAILED records younger than maxAge whose retry counter is
// below maxRetries. Only the channels that failed last time are retried.
func (s *service) RetryFailed(ctx context.Context, maxRetries int, maxAge time.Duration) (*RunStats, error) {
	if maxRetries <= 0 {
		return &RunStats{}, nil
	}
	now := s.now()
	rows, err := s.repo.ClaimRetryable(ctx, now, s.config.ClaimTTL, maxRetries, now.Add(-maxAge), s.config.RetryBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to claim retryable notifications: %w", err)
	}

	stats := &RunStats{}
	for _, n := range rows {
		if ctx.Err() != nil {
			break
		}
		if n.RetryCount() >= maxRetries {
			continue
		}
		stats.Processed++

		n.SetRetryCount(n.RetryCount() + 1)
		if err := n.TransitionTo(model.NotificationStatusPending, s.now()); err != nil {
			s.tally(stats, n, err, "retry")
			continue
		}
		channels := n.ChannelsWithStatus(model.NotificationStatusFailed)
		if len(channels) == 0 {
			channels = n.ExplicitChannels()
		}
		n.ClearChannelError(errKeyAll)
		for _, ch := range channels {
			n.ClearChannelError(ch)
		}
		s.tally(stats, n, s.processRow(ctx, n, channels), "retry")
	}
	return stats, nil
}

// errKeyAll holds a failure that happened before any channel was attempted.
const errKeyAll model.Channel = "all"

// processRow delivers a stored PENDING record. When the delivery itself errors the
// record is forced to FAILED so the next sweep does not pick it up again.
func (s *service) processRow(ctx context.Context, n *model.Notification, channels model.ChannelList) error {
	var err error
	if len(channels) == 0 {
		channels, err = s.DetermineChannels(ctx, &Envelope{
			UserID:           n.UserID,
			UserType:         n.UserType,
			NotificationKind: n.NotificationKind,
			Priority:         n.Priority,
		})
	}
	if err == nil {
		_, err = s.deliver(ctx, n, channels, nil)
	}
	if err == nil {
		return nil
	}

	s.logger.Error(err, "Failed to process notification", "notification_id", n.ID.String())
	if n.Status == model.NotificationStatusPending {
		n.MergeChannelError(errKeyAll, err.Error())
		if terr := n.TransitionTo(model.NotificationStatusFailed, s.now()); terr == nil {
			if uerr := s.repo.Update(ctx, n); uerr != nil {
				s.logger.Error(uerr, "Failed to mark notification failed", "notification_id", n.ID.String())
			}
		}
	}
	return err
}

func (s *service) tally(stats *RunStats, n *model.Notification, err error, task string) {
	result := "failed"
	switch {
	case err != nil:
		stats.Failed++
	case n.Status == model.NotificationStatusSkipped:
		stats.Skipped++
		result = "skipped"
	case n.Status == model.NotificationStatusFailed:
		stats.Failed++
	default:
		stats.Succeeded++
		result = "succeeded"
	}
	s.metrics.WorkerItems.WithLabelValues(task, result).Inc()
}

// CleanupOld deletes every record older than daysToKeep regardless of status.
func (s *service) CleanupOld(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		return 0, apperrors.BadRequest("days to keep must be positive", nil)
	}
	cutoff := s.now().AddDate(0, 0, -daysToKeep)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("Old notifications deleted", "count", deleted, "cutoff", cutoff)
	}
	s.metrics.WorkerItems.WithLabelValues("cleanup", "deleted").Add(float64(deleted))
	return deleted, nil
}
