package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"support-mail-ai-go/internal/model"
)

// Janitor timeouts and windows.
const (
	stuckTimeout    = 10 * time.Minute
	transientDLQAge = 24 * time.Hour
	dlqRetention    = 7 * 24 * time.Hour
)

// transientErrorPatterns match dead-letter errors worth one more shot.
// Substring match over the lowercased last error.
var transientErrorPatterns = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"temporary failure",
	"rate limit",
	"too many requests",
	"status 429",
	"status 500",
	"status 502",
	"status 503",
	"status 504",
	"eof",
}

// Janitor reconciles the job queue and the message store. Each sweep is
// idempotent and safe to run concurrently with workers.
type Janitor struct {
	db    *gorm.DB
	queue *Queue
}

// NewJanitor creates a Janitor sharing the queue's database handle.
func NewJanitor(db *gorm.DB, queue *Queue) *Janitor {
	return &Janitor{db: db, queue: queue}
}

// Run executes the five sweeps. A failing sweep is logged and does not
// stop the others.
func (j *Janitor) Run(ctx context.Context) {
	logrus.Info("Janitor sweep starting")

	if err := j.recoverStuck(ctx); err != nil {
		logrus.Errorf("Janitor: stuck recovery failed: %v", err)
	}
	if err := j.retryPendingCredits(ctx); err != nil {
		logrus.Errorf("Janitor: credit-held retry failed: %v", err)
	}
	if err := j.reconcileOrphans(ctx); err != nil {
		logrus.Errorf("Janitor: orphan reconciliation failed: %v", err)
	}
	if err := j.retryTransientDeadLetters(ctx); err != nil {
		logrus.Errorf("Janitor: transient dead-letter retry failed: %v", err)
	}
	if err := j.pruneDeadLetters(ctx); err != nil {
		logrus.Errorf("Janitor: dead-letter pruning failed: %v", err)
	}

	logrus.Info("Janitor sweep finished")
}

// recoverStuck resets messages and jobs abandoned in processing by a
// crashed worker. Attempts are not counted: the crash already cost the
// job nothing it chose.
func (j *Janitor) recoverStuck(ctx context.Context) error {
	cutoff := time.Now().Add(-stuckTimeout)

	res := j.db.WithContext(ctx).Model(&model.Job{}).
		Where("status = ? AND started_at < ?", model.JobProcessing, cutoff).
		Updates(map[string]interface{}{"status": model.JobPending, "next_retry_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		logrus.Infof("Janitor: reset %d stuck jobs to pending", res.RowsAffected)
	}

	res = j.db.WithContext(ctx).Model(&model.Message{}).
		Where("status = ? AND updated_at < ?", model.MessageProcessing, cutoff).
		Update("status", model.MessagePending)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		logrus.Infof("Janitor: reset %d stuck messages to pending", res.RowsAffected)
	}

	return nil
}

// retryPendingCredits puts credit-held messages back through admission.
// Every sweep resets them to pending and enqueues a fresh job; the
// worker re-runs the credit check and either replies (quota reset,
// extra package landed) or holds them again. The hourly cap in notify
// keeps repeated holds from re-warning the owner each pass.
func (j *Janitor) retryPendingCredits(ctx context.Context) error {
	var held []model.Message
	err := j.db.WithContext(ctx).
		Where("direction = ? AND status = ?", model.DirectionInbound, model.MessagePendingCredits).
		Limit(200).
		Find(&held).Error
	if err != nil {
		return err
	}

	revived := 0
	for _, msg := range held {
		res := j.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ? AND status = ?", msg.ID, model.MessagePendingCredits).
			Update("status", model.MessagePending)
		if res.Error != nil {
			logrus.Errorf("Janitor: failed to revive credit-held message %d: %v", msg.ID, res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}
		revived++

		// A failed enqueue is fine: the message is pending again and the
		// orphan sweep picks it up next pass.
		if _, err := j.queue.Enqueue(ctx, model.JobTypeProcessMessage, msg.ShopID, msg.ID, "", 0, 3); err != nil && !errors.Is(err, ErrDuplicateJob) {
			logrus.Errorf("Janitor: failed to enqueue revived message %d: %v", msg.ID, err)
		}
	}

	if revived > 0 {
		logrus.Infof("Janitor: revived %d credit-held messages", revived)
	}
	return nil
}

// reconcileOrphans re-enqueues pending inbound messages that lost their
// job. Stale jobs for the message are deleted first so the at-most-one-
// active-job invariant holds after the sweep.
func (j *Janitor) reconcileOrphans(ctx context.Context) error {
	var orphans []model.Message
	err := j.db.WithContext(ctx).
		Where("direction = ? AND status = ?", model.DirectionInbound, model.MessagePending).
		Where("NOT EXISTS (SELECT 1 FROM jobs WHERE jobs.message_id = messages.id AND jobs.status IN ?)",
			[]string{model.JobPending, model.JobProcessing}).
		Limit(200).
		Find(&orphans).Error
	if err != nil {
		return err
	}

	for _, msg := range orphans {
		if err := j.db.WithContext(ctx).
			Where("message_id = ? AND status NOT IN ?", msg.ID, []string{model.JobCompleted}).
			Delete(&model.Job{}).Error; err != nil {
			logrus.Errorf("Janitor: failed to delete stale jobs for message %d: %v", msg.ID, err)
			continue
		}

		if _, err := j.queue.Enqueue(ctx, model.JobTypeProcessMessage, msg.ShopID, msg.ID, "", 0, 3); err != nil {
			logrus.Errorf("Janitor: failed to re-enqueue message %d: %v", msg.ID, err)
		}
	}

	if len(orphans) > 0 {
		logrus.Infof("Janitor: re-enqueued %d orphaned messages", len(orphans))
	}
	return nil
}

// retryTransientDeadLetters gives recently dead-lettered jobs whose last
// error looks transient one fresh run, provided their message is still
// waiting.
func (j *Janitor) retryTransientDeadLetters(ctx context.Context) error {
	var candidates []model.Job
	err := j.db.WithContext(ctx).
		Where("jobs.status = ? AND jobs.completed_at > ?", model.JobDeadLetter, time.Now().Add(-transientDLQAge)).
		Where("EXISTS (SELECT 1 FROM messages WHERE messages.id = jobs.message_id AND messages.status = ?)",
			model.MessagePending).
		Limit(200).
		Find(&candidates).Error
	if err != nil {
		return err
	}

	retried := 0
	for _, job := range candidates {
		if !IsTransientErrorText(job.LastError) {
			continue
		}

		res := j.db.WithContext(ctx).Model(&model.Job{}).
			Where("id = ? AND status = ?", job.ID, model.JobDeadLetter).
			Updates(map[string]interface{}{
				"status":        model.JobPending,
				"attempt_count": 0,
				"next_retry_at": time.Now(),
				"completed_at":  nil,
			})
		if res.Error != nil {
			logrus.Errorf("Janitor: failed to resurrect job %d: %v", job.ID, res.Error)
			continue
		}
		if res.RowsAffected > 0 {
			retried++
		}
	}

	if retried > 0 {
		logrus.Infof("Janitor: resurrected %d transient dead-letter jobs", retried)
	}
	return nil
}

// pruneDeadLetters deletes dead-lettered jobs past the retention window.
func (j *Janitor) pruneDeadLetters(ctx context.Context) error {
	res := j.db.WithContext(ctx).
		Where("status = ? AND completed_at < ?", model.JobDeadLetter, time.Now().Add(-dlqRetention)).
		Delete(&model.Job{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		logrus.Infof("Janitor: pruned %d dead-letter jobs", res.RowsAffected)
	}
	return nil
}

// IsTransientErrorText reports whether a recorded job error matches the
// transient pattern set.
func IsTransientErrorText(errText string) bool {
	lower := strings.ToLower(errText)
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
