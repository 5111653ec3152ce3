package queue

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"support-mail-ai-go/internal/model"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	// SkipDefaultTransaction keeps single-statement writes free of
	// begin/commit noise in the expectations; explicit transactions
	// still show up.
	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return db, mock
}

func TestEnqueueLocksMessageRow(t *testing.T) {
	db, mock := newMockDB(t)
	q := New(db)

	mock.ExpectBegin()

	// The message row is claimed before the active-job check so two
	// concurrent enqueuers serialize instead of both inserting.
	mock.ExpectQuery("SELECT `id` FROM `messages` WHERE .*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `jobs`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `jobs`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	id, err := q.Enqueue(context.Background(), model.JobTypeProcessMessage, 1, 42, "", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, uint(7), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRejectsDuplicateActiveJob(t *testing.T) {
	db, mock := newMockDB(t)
	q := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id` FROM `messages` WHERE .*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `jobs`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := q.Enqueue(context.Background(), model.JobTypeProcessMessage, 1, 42, "", 0, 3)
	assert.ErrorIs(t, err, ErrDuplicateJob)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailRetryAndDeadLetterDecision(t *testing.T) {
	tests := []struct {
		name         string
		attemptCount int
		maxAttempts  int
		retryable    bool
		wantStatus   string
	}{
		{"first retryable failure goes back to pending", 0, 3, true, model.JobPending},
		{"second retryable failure goes back to pending", 1, 3, true, model.JobPending},
		{"final attempt dead-letters even when retryable", 2, 3, true, model.JobDeadLetter},
		{"permanent failure dead-letters immediately", 0, 3, false, model.JobDeadLetter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			q := New(db)

			mock.ExpectBegin()
			mock.ExpectQuery("SELECT \\* FROM `jobs` WHERE .*FOR UPDATE").
				WillReturnRows(sqlmock.NewRows([]string{"id", "attempt_count", "max_attempts", "status"}).
					AddRow(9, tt.attemptCount, tt.maxAttempts, model.JobProcessing))
			mock.ExpectExec("UPDATE `jobs` SET").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()

			status, err := q.Fail(context.Background(), 9, "boom", "transient", tt.retryable)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestJanitorRevivesCreditHeldMessages(t *testing.T) {
	db, mock := newMockDB(t)
	j := NewJanitor(db, New(db))

	mock.ExpectQuery("SELECT \\* FROM `messages` WHERE direction = \\? AND status = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "shop_id", "direction", "status"}).
			AddRow(5, 3, model.DirectionInbound, model.MessagePendingCredits))

	// Reset to pending, then enqueue a fresh job for the message.
	mock.ExpectExec("UPDATE `messages` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `id` FROM `messages` WHERE .*FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `jobs`").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("INSERT INTO `jobs`").
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()

	require.NoError(t, j.retryPendingCredits(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJanitorRevivalSkipsAlreadyClaimedMessages(t *testing.T) {
	db, mock := newMockDB(t)
	j := NewJanitor(db, New(db))

	mock.ExpectQuery("SELECT \\* FROM `messages` WHERE direction = \\? AND status = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "shop_id", "direction", "status"}).
			AddRow(5, 3, model.DirectionInbound, model.MessagePendingCredits))

	// Someone else already moved the message on; no job is enqueued.
	mock.ExpectExec("UPDATE `messages` SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, j.retryPendingCredits(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
