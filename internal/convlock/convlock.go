// Package convlock is the per-conversation exclusion lock: at most one
// job per conversation is processed at a time, across worker processes.
// The lock is a database row with a TTL; expired locks are stolen, so a
// crashed holder delays a thread by at most the TTL.
package convlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"support-mail-ai-go/internal/model"
)

// ErrLockHeld means another worker holds the conversation. The job is
// skipped (not failed) and retried on a later pass.
var ErrLockHeld = errors.New("convlock: conversation lock held")

// DefaultTTL bounds how long a crashed holder can block a thread. It
// exceeds any single job's processing budget.
const DefaultTTL = 15 * time.Minute

// Locker acquires and releases conversation locks.
type Locker struct {
	db *gorm.DB
}

// New creates a Locker on the given database handle.
func New(db *gorm.DB) *Locker {
	return &Locker{db: db}
}

// Acquire takes the lock for a conversation. Returns ErrLockHeld when a
// live lock belongs to someone else. An expired lock is stolen in place.
func (l *Locker) Acquire(ctx context.Context, conversationID uint, owner string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()

	lock := model.ConversationLock{
		ConversationID: conversationID,
		LockedBy:       owner,
		ExpiresAt:      now.Add(ttl),
	}

	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&lock)
	if res.Error != nil {
		return fmt.Errorf("failed to insert conversation lock: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Row exists. Steal it only if expired.
	steal := l.db.WithContext(ctx).Model(&model.ConversationLock{}).
		Where("conversation_id = ? AND expires_at < ?", conversationID, now).
		Updates(map[string]interface{}{"locked_by": owner, "expires_at": now.Add(ttl)})
	if steal.Error != nil {
		return fmt.Errorf("failed to steal expired lock: %w", steal.Error)
	}
	if steal.RowsAffected == 1 {
		return nil
	}

	return ErrLockHeld
}

// Release drops the lock if the caller still owns it. Releasing a lock
// stolen from us is a no-op.
func (l *Locker) Release(ctx context.Context, conversationID uint, owner string) error {
	res := l.db.WithContext(ctx).
		Where("conversation_id = ? AND locked_by = ?", conversationID, owner).
		Delete(&model.ConversationLock{})
	if res.Error != nil {
		return fmt.Errorf("failed to release conversation lock: %w", res.Error)
	}
	return nil
}
