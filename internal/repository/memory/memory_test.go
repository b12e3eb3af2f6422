package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
)

func newNotification(userID string, createdAt time.Time) *model.Notification {
	return &model.Notification{
		ID:               uuid.New(),
		UserID:           userID,
		UserType:         model.UserTypeDriver,
		NotificationKind: model.KindLoadAssigned,
		Channel:          model.ChannelInApp,
		Data:             model.JSONMap{},
		Status:           model.NotificationStatusPending,
		Priority:         model.PriorityMedium,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func TestNotificationRepository_IsolatesStoredRows(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository()
	n := newNotification("u-1", time.Now())
	require.NoError(t, repo.Create(ctx, n))

	n.Data["mutated"] = true
	got, err := repo.Get(ctx, n.ID)
	require.NoError(t, err)
	assert.NotContains(t, got.Data, "mutated")

	_, err = repo.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestNotificationRepository_DueAndRetryable(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newNotification("u-1", now.Add(-time.Hour))
	due.ScheduledFor = &past
	notYet := newNotification("u-1", now.Add(-time.Hour))
	notYet.ScheduledFor = &future
	cancelled := newNotification("u-1", now.Add(-time.Hour))
	cancelled.ScheduledFor = &past
	cancelled.Status = model.NotificationStatusCancelled

	failed := newNotification("u-2", now.Add(-time.Hour))
	failed.Status = model.NotificationStatusFailed
	exhausted := newNotification("u-2", now.Add(-time.Hour))
	exhausted.Status = model.NotificationStatusFailed
	exhausted.SetRetryCount(3)
	stale := newNotification("u-2", now.Add(-48*time.Hour))
	stale.Status = model.NotificationStatusFailed

	for _, n := range []*model.Notification{due, notYet, cancelled, failed, exhausted, stale} {
		require.NoError(t, repo.Create(ctx, n))
	}

	rows, err := repo.ClaimDue(ctx, now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)

	rows, err = repo.ClaimRetryable(ctx, now, time.Minute, 3, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, failed.ID, rows[0].ID)

	deleted, err := repo.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestNotificationRepository_ClaimsAreExclusive(t *testing.T) {
	ctx := context.Background()
	repo := NewNotificationRepository()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Minute)
	for i := 0; i < 5; i++ {
		n := newNotification("u-1", now.Add(-time.Hour))
		n.ScheduledFor = &past
		require.NoError(t, repo.Create(ctx, n))
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		claimed = map[uuid.UUID]int{}
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := repo.ClaimDue(ctx, now, time.Minute, 2)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, n := range rows {
				claimed[n.ID]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, 5)
	for _, count := range claimed {
		assert.Equal(t, 1, count)
	}

	rows, err := repo.ClaimDue(ctx, now.Add(30*time.Second), time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	// an expired lease is claimable again
	rows, err = repo.ClaimDue(ctx, now.Add(2*time.Minute), time.Minute, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	// leaving PENDING releases the lease
	failed := rows[0]
	failed.Status = model.NotificationStatusFailed
	require.NoError(t, repo.Update(ctx, failed))
	rows, err = repo.ClaimRetryable(ctx, now.Add(2*time.Minute), time.Minute, 3, now.Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, failed.ID, rows[0].ID)
}

func TestTemplateRepository_ConcurrentSetDefault(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository()
	now := time.Now()

	var ids []uuid.UUID
	for i := 0; i < 8; i++ {
		tpl := model.FallbackTemplate(model.KindSystemAlert, model.ChannelEmail, "en", now)
		tpl.IsDefault = i == 0
		require.NoError(t, repo.Create(ctx, tpl))
		ids = append(ids, tpl.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := repo.SetDefault(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	all, err := repo.List(ctx, model.TemplateFilter{})
	require.NoError(t, err)
	defaults := 0
	for _, tpl := range all {
		if tpl.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestTemplateRepository_CreateRejectsSecondDefault(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository()
	first := model.FallbackTemplate(model.KindSystemAlert, model.ChannelPush, "en", time.Now())
	require.NoError(t, repo.Create(ctx, first))

	second := model.FallbackTemplate(model.KindSystemAlert, model.ChannelPush, "en", time.Now())
	assert.ErrorIs(t, repo.Create(ctx, second), repository.ErrConflict)

	stored, err := repo.CreateDefaultIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, stored.ID)
}

func TestTemplateRepository_SetDefaultRejectsInactive(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository()
	def := model.FallbackTemplate(model.KindSystemAlert, model.ChannelSMS, "en", time.Now())
	require.NoError(t, repo.Create(ctx, def))

	other := model.FallbackTemplate(model.KindSystemAlert, model.ChannelSMS, "en", time.Now())
	other.IsDefault = false
	other.IsActive = false
	require.NoError(t, repo.Create(ctx, other))

	_, err := repo.SetDefault(ctx, other.ID)
	assert.ErrorIs(t, err, repository.ErrInactive)

	got, err := repo.GetDefault(ctx, def.Key())
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
}

func TestContactRepository_DeviceTokens(t *testing.T) {
	ctx := context.Background()
	repo := NewContactRepository()

	require.NoError(t, repo.AddDeviceToken(ctx, "u-1", model.UserTypeDriver, "tok-a"))
	require.NoError(t, repo.AddDeviceToken(ctx, "u-1", model.UserTypeDriver, "tok-a"))
	require.NoError(t, repo.AddDeviceToken(ctx, "u-1", model.UserTypeDriver, "tok-b"))

	c, err := repo.Get(ctx, "u-1", model.UserTypeDriver)
	require.NoError(t, err)
	assert.Equal(t, model.StringList{"tok-a", "tok-b"}, c.DeviceTokens)

	require.NoError(t, repo.RemoveDeviceToken(ctx, "u-1", model.UserTypeDriver, "tok-a"))
	c, err = repo.Get(ctx, "u-1", model.UserTypeDriver)
	require.NoError(t, err)
	assert.Equal(t, model.StringList{"tok-b"}, c.DeviceTokens)
}
