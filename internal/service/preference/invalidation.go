package preference

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/pkg/messaging"
)

// Publisher is the part of the bus the service writes invalidations to.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

type invalidation struct {
	UserID           string                 `json:"user_id"`
	UserType         model.UserType         `json:"user_type"`
	NotificationKind model.NotificationKind `json:"notification_kind"`
}

// announce tells the other processes to drop their copy of pref. A failed publish
// only leaves them stale until the cache TTL expires.
func (s *service) announce(ctx context.Context, pref *model.Preference) {
	if s.bus == nil {
		return
	}
	msg := invalidation{UserID: pref.UserID, UserType: pref.UserType, NotificationKind: pref.NotificationKind}
	if err := s.bus.Publish(ctx, messaging.ChannelPreferences, msg); err != nil {
		s.logger.Warn("Failed to publish preference invalidation", "user_id", pref.UserID, "error", err.Error())
	}
}

func (s *service) HandleInvalidation(_ context.Context, raw []byte) error {
	var msg invalidation
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("failed to decode preference invalidation: %w", err)
	}
	s.cache.Delete(cacheKey(msg.UserID, msg.UserType, msg.NotificationKind))
	return nil
}
