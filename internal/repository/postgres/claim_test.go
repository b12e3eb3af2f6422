package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
)

func newMockRepo(t *testing.T) (repository.NotificationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewNotificationRepository(NewBaseRepository(sqlx.NewDb(db, "postgres"))), mock
}

func notificationRows(now time.Time, ids ...uuid.UUID) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "user_type", "notification_kind", "channel", "content", "data", "status",
		"read", "priority", "reference_id", "reference_type", "scheduled_for", "sent_at", "delivered_at", "read_at",
		"created_at", "updated_at",
	})
	for _, id := range ids {
		rows.AddRow(id.String(), "u-1", "driver", "delivery_reminder", "push", []byte(`{}`), []byte(`{}`), "PENDING",
			false, "MEDIUM", nil, nil, now, nil, nil, nil, now, now)
	}
	return rows
}

func TestClaimDue_LocksAndLeasesRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first, second := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)claimed_until IS NULL OR claimed_until <= \$2.*FOR UPDATE SKIP LOCKED`).
		WithArgs(model.NotificationStatusPending, now, 10).
		WillReturnRows(notificationRows(now, first, second))
	mock.ExpectExec(`UPDATE notifications SET claimed_until = \$1 WHERE id = ANY`).
		WithArgs(now.Add(time.Minute), pq.StringArray{first.String(), second.String()}).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	rows, err := repo.ClaimDue(context.Background(), now, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first, rows[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRetryable_NothingToClaimSkipsLease(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)status = \$1 AND created_at > \$2.*FOR UPDATE SKIP LOCKED`).
		WithArgs(model.NotificationStatusFailed, since, 3, now, 50).
		WillReturnRows(notificationRows(now))
	mock.ExpectCommit()

	rows, err := repo.ClaimRetryable(context.Background(), now, time.Minute, 3, since, 50)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimDue_RollsBackOnError(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnRows(notificationRows(now, uuid.New()))
	mock.ExpectExec(`UPDATE notifications SET claimed_until`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := repo.ClaimDue(context.Background(), now, time.Minute, 10)
	assert.ErrorContains(t, err, "failed to claim due notifications")
	assert.NoError(t, mock.ExpectationsWereMet())
}
