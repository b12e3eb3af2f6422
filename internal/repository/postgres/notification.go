package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
)

const notificationColumns = `id, user_id, user_type, notification_kind, channel, content, data, status,
	read, priority, reference_id, reference_type, scheduled_for, sent_at, delivered_at, read_at,
	created_at, updated_at`

type notificationRepository struct {
	*BaseRepository
}

func NewNotificationRepository(base *BaseRepository) repository.NotificationRepository {
	return &notificationRepository{
		BaseRepository: base,
	}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES (:id, :user_id, :user_type, :notification_kind, :channel, :content, :data, :status,
			:read, :priority, :reference_id, :reference_type, :scheduled_for, :sent_at, :delivered_at,
			:read_at, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	var n model.Notification
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		return nil, notFoundOr(err)
	}
	return &n, nil
}

func (r *notificationRepository) Update(ctx context.Context, n *model.Notification) error {
	query := `
		UPDATE notifications SET
			channel = :channel, content = :content, data = :data, status = :status, read = :read,
			priority = :priority, scheduled_for = :scheduled_for, sent_at = :sent_at,
			delivered_at = :delivered_at, read_at = :read_at, updated_at = :updated_at,
			claimed_until = CASE WHEN CAST(:status AS TEXT) = 'PENDING' THEN claimed_until END
		WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, n)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *notificationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// whereClause renders filter as a WHERE fragment with positional args.
func whereClause(filter model.NotificationFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.UserType != "" {
		add("user_type = $%d", filter.UserType)
	}
	if filter.NotificationKind != "" {
		add("notification_kind = $%d", filter.NotificationKind)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Read != nil {
		add("read = $%d", *filter.Read)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *notificationRepository) List(ctx context.Context, filter model.NotificationFilter) ([]*model.Notification, int64, error) {
	where, args := whereClause(filter)

	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM notifications`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	page := filter.Pagination.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM notifications%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		notificationColumns, where, len(args)+1, len(args)+2)
	args = append(args, page.PageSize, page.Offset())

	notifications := []*model.Notification{}
	if err := r.db.SelectContext(ctx, &notifications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, total, nil
}

func (r *notificationRepository) MarkAllAsRead(ctx context.Context, userID string, userType model.UserType, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications SET read = TRUE, read_at = $3, updated_at = $3
		WHERE user_id = $1 AND user_type = $2 AND read = FALSE`, userID, userType, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string, userType model.UserType) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND user_type = $2 AND read = FALSE`, userID, userType)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (r *notificationRepository) CountSince(ctx context.Context, userID string, userType model.UserType, kind model.NotificationKind, since time.Time) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM notifications
		WHERE user_id = $1 AND user_type = $2 AND notification_kind = $3 AND created_at > $4`,
		userID, userType, kind, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent notifications: %w", err)
	}
	return count, nil
}

type groupCount struct {
	Key   string `db:"key"`
	Count int64  `db:"count"`
}

func (r *notificationRepository) Stats(ctx context.Context, userID string, userType model.UserType) (*model.NotificationStats, error) {
	filter := model.NotificationFilter{UserID: userID, UserType: userType}
	where, args := whereClause(filter)

	stats := &model.NotificationStats{
		ByStatus:  map[model.NotificationStatus]int64{},
		ByChannel: map[model.Channel]int64{},
	}

	var byStatus []groupCount
	if err := r.db.SelectContext(ctx, &byStatus,
		`SELECT status AS key, COUNT(*) AS count FROM notifications`+where+` GROUP BY status`, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate by status: %w", err)
	}
	for _, g := range byStatus {
		stats.ByStatus[model.NotificationStatus(g.Key)] = g.Count
		stats.Total += g.Count
	}

	var byChannel []groupCount
	if err := r.db.SelectContext(ctx, &byChannel,
		`SELECT channel AS key, COUNT(*) AS count FROM notifications`+where+` GROUP BY channel`, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate by channel: %w", err)
	}
	for _, g := range byChannel {
		stats.ByChannel[model.Channel(g.Key)] = g.Count
	}

	unread := false
	filter.Read = &unread
	where, args = whereClause(filter)
	if err := r.db.GetContext(ctx, &stats.Unread, `SELECT COUNT(*) FROM notifications`+where, args...); err != nil {
		return nil, fmt.Errorf("failed to count unread: %w", err)
	}
	return stats, nil
}

func (r *notificationRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE status = $1 AND scheduled_for IS NOT NULL AND scheduled_for <= $2
		AND (claimed_until IS NULL OR claimed_until <= $2)
		ORDER BY scheduled_for ASC LIMIT $3
		FOR UPDATE SKIP LOCKED`
	rows, err := r.claim(ctx, now.Add(lease), query, model.NotificationStatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due notifications: %w", err)
	}
	return rows, nil
}

func (r *notificationRepository) ClaimRetryable(ctx context.Context, now time.Time, lease time.Duration, maxRetries int, since time.Time, limit int) ([]*model.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE status = $1 AND created_at > $2
		AND COALESCE((data->>'` + model.DataKeyRetryCount + `')::int, 0) < $3
		AND (claimed_until IS NULL OR claimed_until <= $4)
		ORDER BY created_at ASC LIMIT $5
		FOR UPDATE SKIP LOCKED`
	rows, err := r.claim(ctx, now.Add(lease), query, model.NotificationStatusFailed, since, maxRetries, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim retryable notifications: %w", err)
	}
	return rows, nil
}

// claim locks the rows query selects, skipping rows another sweep holds, and
// leases them until until before the transaction commits.
func (r *notificationRepository) claim(ctx context.Context, until time.Time, query string, args ...interface{}) ([]*model.Notification, error) {
	notifications := []*model.Notification{}
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &notifications, query, args...); err != nil {
			return err
		}
		if len(notifications) == 0 {
			return nil
		}
		ids := make([]string, len(notifications))
		for i, n := range notifications {
			ids[i] = n.ID.String()
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE notifications SET claimed_until = $1 WHERE id = ANY($2::uuid[])`, until, pq.StringArray(ids))
		return err
	})
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}
	return deleted, nil
}
