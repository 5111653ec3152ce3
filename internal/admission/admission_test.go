package admission

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	// SkipDefaultTransaction keeps single-statement writes free of
	// begin/commit noise in the expectations.
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

func TestTryReserveCreditGrantsWithinQuota(t *testing.T) {
	db, mock := newMockDB(t)
	c := New(db, nil)

	// Compare and increment are one conditional UPDATE; concurrent
	// callers race on the row, not on a stale read, so usage can never
	// pass the limit no matter how many workers reserve at once.
	mock.ExpectExec("UPDATE `users` SET .*emails_used.* WHERE id = \\? AND status = \\? AND \\(emails_limit IS NULL OR emails_used < emails_limit\\)").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := c.TryReserveCredit(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryReserveCreditDeniesWhenExhausted(t *testing.T) {
	db, mock := newMockDB(t)
	c := New(db, nil)

	// The guarded UPDATE matches no row, so no credit is spent and the
	// over-quota counter ticks instead.
	mock.ExpectExec("UPDATE `users` SET .*emails_used.*").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE `users` SET .*over_quota_count.*").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM `users` WHERE `users`.`id` = \\?").
		WillReturnRows(sqlmock.NewRows([]string{"id", "over_quota_count"}).AddRow(1, 3))

	ok, err := c.TryReserveCredit(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestShouldOrderExtraPackage(t *testing.T) {
	assert.False(t, ShouldOrderExtraPackage(0))
	assert.False(t, ShouldOrderExtraPackage(1))
	assert.False(t, ShouldOrderExtraPackage(ExtraPackageThreshold-1))

	// Fires on exact multiples only, so the side effect does not repeat
	// for every over-quota message.
	assert.True(t, ShouldOrderExtraPackage(ExtraPackageThreshold))
	assert.False(t, ShouldOrderExtraPackage(ExtraPackageThreshold+1))
	assert.True(t, ShouldOrderExtraPackage(2*ExtraPackageThreshold))
}
