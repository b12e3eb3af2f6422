package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/freightlane/notify-api/internal/channel"
	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
)

const capWindow = 24 * time.Hour

// DetermineChannels resolves the channels env should go out on. An explicit override
// replaces the preference lookup. HIGH priority ignores quiet hours and always
// includes push, override or not.
func (s *service) DetermineChannels(ctx context.Context, env *Envelope) (model.ChannelList, error) {
	if len(env.Channels) > 0 {
		return escalate(env.Priority, model.ParseChannelList(env.Channels).Dedup()), nil
	}

	pref, err := s.preferences.Resolve(ctx, env.UserID, env.UserType, env.NotificationKind)
	if err != nil {
		return nil, err
	}

	var out model.ChannelList
	if env.Priority == model.PriorityHigh {
		if pref.Enabled {
			out = append(out, pref.Channels...)
		}
		return escalate(env.Priority, out.Dedup()), nil
	}

	for _, ch := range pref.Channels {
		if s.preferences.ShouldDeliver(pref, ch) {
			out = append(out, ch)
		}
	}
	return out.Dedup(), nil
}

// escalate puts push in front of channels for HIGH priority.
func escalate(priority model.Priority, channels model.ChannelList) model.ChannelList {
	if priority != model.PriorityHigh || channels.Contains(model.ChannelPush) {
		return channels
	}
	return append(model.ChannelList{model.ChannelPush}, channels...)
}

// applyFrequencyCap narrows channels to in-app once the user has hit the daily cap.
func (s *service) applyFrequencyCap(ctx context.Context, env *Envelope, channels model.ChannelList) (model.ChannelList, error) {
	if env.Priority == model.PriorityHigh || len(channels) == 0 {
		return channels, nil
	}
	pref, err := s.preferences.Resolve(ctx, env.UserID, env.UserType, env.NotificationKind)
	if err != nil {
		return nil, err
	}
	if pref.Frequency.MaxPerDay <= 0 {
		return channels, nil
	}
	count, err := s.repo.CountSince(ctx, env.UserID, env.UserType, env.NotificationKind, s.now().Add(-capWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count recent notifications: %w", err)
	}
	if count < int64(pref.Frequency.MaxPerDay) {
		return channels, nil
	}
	s.logger.Info("Daily cap reached, limiting to in-app",
		"user_id", env.UserID, "kind", string(env.NotificationKind), "count", count)
	return model.ChannelList{model.ChannelInApp}, nil
}

func (s *service) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	channels, err := s.DetermineChannels(ctx, &req.Envelope)
	if err != nil {
		return nil, err
	}
	if len(req.Channels) == 0 {
		if channels, err = s.applyFrequencyCap(ctx, &req.Envelope, channels); err != nil {
			return nil, err
		}
	}

	n := s.newRecord(&req.Envelope)
	for k, v := range req.Content {
		n.Content[k] = v
	}
	if len(channels) > 0 {
		n.Channel = channels[0]
	} else {
		n.Channel = model.ChannelInApp
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	s.metrics.NotificationsCreated.WithLabelValues(string(n.NotificationKind)).Inc()

	outcomes, err := s.deliver(ctx, n, channels, req.Contact)
	if err != nil {
		return nil, err
	}
	return &SendResult{Notification: n, Outcomes: outcomes}, nil
}

// deliver dispatches n on every channel, aggregates the outcomes and persists the
// record once. Channel failures land on the record, never in the returned error.
func (s *service) deliver(ctx context.Context, n *model.Notification, channels model.ChannelList, contactOverride *model.RecipientContact) (map[model.Channel]channel.Outcome, error) {
	log := s.logger.WithFields(map[string]interface{}{
		"notification_id": n.ID.String(),
		"user_id":         n.UserID,
	})
	outcomes := make(map[model.Channel]channel.Outcome, len(channels))

	if len(channels) == 0 {
		log.Info("No deliverable channels, skipping")
		n.MergeChannelError(errKeyAll, ErrNoChannels.Error())
		if err := n.TransitionTo(model.NotificationStatusSkipped, s.now()); err != nil {
			return nil, err
		}
		if err := s.repo.Update(ctx, n); err != nil {
			return nil, fmt.Errorf("failed to update notification: %w", err)
		}
		return outcomes, nil
	}

	contact := contactOverride
	if contact == nil {
		c, err := s.contacts.Get(ctx, n.UserID, n.UserType)
		switch {
		case errors.Is(err, repository.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to load contact: %w", err)
		default:
			contact = c
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxWorkers)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			var out channel.Outcome
			tpl, err := s.templateFor(gctx, n, ch)
			if err != nil {
				log.Error(err, "Template lookup failed", "channel", string(ch))
				out = channel.Outcome{Channel: ch, Status: model.NotificationStatusFailed, Error: err.Error()}
			} else {
				out = s.dispatcher.Send(gctx, n, tpl, ch, contact)
			}
			mu.Lock()
			outcomes[ch] = out
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	best := model.NotificationStatus("")
	for _, ch := range channels {
		out := outcomes[ch]
		n.SetDeliveryStatus(ch, out.Status)
		if !out.Succeeded() && out.Error != "" {
			n.MergeChannelError(ch, out.Error)
		}
		if len(n.Content) == 0 && len(out.Content) > 0 {
			n.Content = out.Content.Clone()
		}
		best = model.BetterOutcome(best, out.Status)
	}
	n.Channel = channels[0]

	if err := n.TransitionTo(best, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to update notification: %w", err)
	}
	log.Info("Notification dispatched", "status", string(n.Status), "channels", strings.Join(channels.Strings(), ","))
	return outcomes, nil
}

// templateFor picks the template named in n's data, else the default for the channel.
func (s *service) templateFor(ctx context.Context, n *model.Notification, ch model.Channel) (*model.Template, error) {
	if raw, ok := n.Data[model.DataKeyTemplateID].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid template id %q: %w", raw, err)
		}
		return s.templates.Get(ctx, id)
	}
	return s.templates.GetOrCreate(ctx, n.NotificationKind, ch, n.Locale())
}

// SendBulk sends to every recipient with bounded concurrency. A recipient counts as a
// success when its record was created and dispatched without an error.
func (s *service) SendBulk(ctx context.Context, req *BulkRequest) (*BulkResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}

	result := &BulkResult{Records: make([]*model.Notification, 0, len(req.Recipients))}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxWorkers)

	for _, r := range req.Recipients {
		r := r
		g.Go(func() error {
			res, err := s.Send(gctx, &SendRequest{
				Envelope: Envelope{
					UserID:           r.UserID,
					UserType:         r.UserType,
					NotificationKind: req.NotificationKind,
					Priority:         req.Priority,
					Channels:         req.Channels,
					Data:             req.Data,
					ReferenceID:      req.ReferenceID,
					ReferenceType:    req.ReferenceType,
					Locale:           req.Locale,
				},
				Content: req.Content,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Error(err, "Bulk send failed for recipient", "user_id", r.UserID)
				result.FailedCount++
				return nil
			}
			result.SuccessCount++
			result.Records = append(result.Records, res.Notification)
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("Bulk send finished",
		"kind", string(req.NotificationKind), "success", result.SuccessCount, "failed", result.FailedCount)
	return result, nil
}

// SendTopic renders once and hands the result to the broadcast backend. No record is
// stored for a topic send.
func (s *service) SendTopic(ctx context.Context, req *TopicRequest) (bool, error) {
	if err := s.validate.Struct(req); err != nil {
		return false, err
	}

	n := &model.Notification{
		ID:               uuid.New(),
		UserID:           "topic:" + req.Topic,
		NotificationKind: req.NotificationKind,
		Channel:          model.ChannelPush,
		Content:          model.StringMap{},
		Data:             model.JSONMap(req.Data).Clone(),
		Status:           model.NotificationStatusPending,
		Priority:         model.PriorityMedium,
	}
	if n.Data == nil {
		n.Data = model.JSONMap{}
	}
	if req.Locale != "" {
		n.Data[model.DataKeyLocale] = req.Locale
	}
	for k, v := range req.Content {
		n.Content[k] = v
	}

	tpl, err := s.templates.GetOrCreate(ctx, req.NotificationKind, model.ChannelPush, n.Locale())
	if err != nil {
		return false, err
	}
	out := s.dispatcher.SendToTopic(ctx, req.Topic, n, tpl)
	return out.Succeeded(), nil
}
