// Package memory holds process-local implementations of the repository
// interfaces. They back single-node development runs and service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
)

// cloneNotification copies n deep enough that callers cannot mutate stored state.
func cloneNotification(n *model.Notification) *model.Notification {
	c := *n
	c.Data = n.Data.Clone()
	if n.Content != nil {
		c.Content = make(model.StringMap, len(n.Content))
		for k, v := range n.Content {
			c.Content[k] = v
		}
	}
	return &c
}

type NotificationRepository struct {
	mu   sync.RWMutex
	rows map[uuid.UUID]*model.Notification
	// claims maps a row id to the end of its sweep lease.
	claims map[uuid.UUID]time.Time
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{
		rows:   make(map[uuid.UUID]*model.Notification),
		claims: make(map[uuid.UUID]time.Time),
	}
}

var _ repository.NotificationRepository = (*NotificationRepository)(nil)

func (r *NotificationRepository) Create(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[n.ID] = cloneNotification(n)
	return nil
}

func (r *NotificationRepository) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneNotification(n), nil
}

func (r *NotificationRepository) Update(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[n.ID]; !ok {
		return repository.ErrNotFound
	}
	r.rows[n.ID] = cloneNotification(n)
	if n.Status != model.NotificationStatusPending {
		delete(r.claims, n.ID)
	}
	return nil
}

func (r *NotificationRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.rows, id)
	delete(r.claims, id)
	return nil
}

func matches(n *model.Notification, f model.NotificationFilter) bool {
	switch {
	case f.UserID != "" && n.UserID != f.UserID:
		return false
	case f.UserType != "" && n.UserType != f.UserType:
		return false
	case f.NotificationKind != "" && n.NotificationKind != f.NotificationKind:
		return false
	case f.Status != "" && n.Status != f.Status:
		return false
	case f.Read != nil && n.Read != *f.Read:
		return false
	}
	return true
}

// selectRows returns clones of rows matching keep, ordered by less.
func (r *NotificationRepository) selectRows(keep func(*model.Notification) bool, less func(a, b *model.Notification) bool) []*model.Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.Notification{}
	for _, n := range r.rows {
		if keep(n) {
			out = append(out, cloneNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func newestFirst(a, b *model.Notification) bool { return a.CreatedAt.After(b.CreatedAt) }

func (r *NotificationRepository) List(_ context.Context, filter model.NotificationFilter) ([]*model.Notification, int64, error) {
	all := r.selectRows(func(n *model.Notification) bool { return matches(n, filter) }, newestFirst)
	total := int64(len(all))

	page := filter.Pagination.Normalize()
	start := page.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + page.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (r *NotificationRepository) MarkAllAsRead(_ context.Context, userID string, userType model.UserType, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, n := range r.rows {
		if n.UserID == userID && n.UserType == userType && !n.Read {
			n.MarkRead(at)
			count++
		}
	}
	return count, nil
}

func (r *NotificationRepository) CountUnread(_ context.Context, userID string, userType model.UserType) (int64, error) {
	unread := false
	rows := r.selectRows(func(n *model.Notification) bool {
		return matches(n, model.NotificationFilter{UserID: userID, UserType: userType, Read: &unread})
	}, newestFirst)
	return int64(len(rows)), nil
}

func (r *NotificationRepository) CountSince(_ context.Context, userID string, userType model.UserType, kind model.NotificationKind, since time.Time) (int64, error) {
	rows := r.selectRows(func(n *model.Notification) bool {
		return n.UserID == userID && n.UserType == userType && n.NotificationKind == kind && n.CreatedAt.After(since)
	}, newestFirst)
	return int64(len(rows)), nil
}

func (r *NotificationRepository) Stats(_ context.Context, userID string, userType model.UserType) (*model.NotificationStats, error) {
	stats := &model.NotificationStats{
		ByStatus:  map[model.NotificationStatus]int64{},
		ByChannel: map[model.Channel]int64{},
	}
	filter := model.NotificationFilter{UserID: userID, UserType: userType}
	for _, n := range r.selectRows(func(n *model.Notification) bool { return matches(n, filter) }, newestFirst) {
		stats.Total++
		stats.ByStatus[n.Status]++
		stats.ByChannel[n.Channel]++
		if !n.Read {
			stats.Unread++
		}
	}
	return stats, nil
}

func limit(rows []*model.Notification, n int) []*model.Notification {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

// claim picks up to max matching rows not leased past now and leases them until
// now+lease.
func (r *NotificationRepository) claim(now time.Time, lease time.Duration, max int, keep func(*model.Notification) bool, less func(a, b *model.Notification) bool) []*model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Notification{}
	for id, n := range r.rows {
		if until, ok := r.claims[id]; ok && until.After(now) {
			continue
		}
		if keep(n) {
			out = append(out, cloneNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	out = limit(out, max)
	for _, n := range out {
		r.claims[n.ID] = now.Add(lease)
	}
	return out
}

func (r *NotificationRepository) ClaimDue(_ context.Context, now time.Time, lease time.Duration, max int) ([]*model.Notification, error) {
	return r.claim(now, lease, max, func(n *model.Notification) bool {
		return n.Status == model.NotificationStatusPending && n.ScheduledFor != nil && !n.ScheduledFor.After(now)
	}, func(a, b *model.Notification) bool { return a.ScheduledFor.Before(*b.ScheduledFor) }), nil
}

func (r *NotificationRepository) ClaimRetryable(_ context.Context, now time.Time, lease time.Duration, maxRetries int, since time.Time, max int) ([]*model.Notification, error) {
	return r.claim(now, lease, max, func(n *model.Notification) bool {
		return n.Status == model.NotificationStatusFailed && n.CreatedAt.After(since) && n.RetryCount() < maxRetries
	}, func(a, b *model.Notification) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func (r *NotificationRepository) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, n := range r.rows {
		if n.CreatedAt.Before(cutoff) {
			delete(r.rows, id)
			delete(r.claims, id)
			count++
		}
	}
	return count, nil
}
