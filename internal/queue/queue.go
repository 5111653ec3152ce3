// Package queue implements the durable, at-least-once job queue over
// messages. Claims use row-level locking (FOR UPDATE SKIP LOCKED) so two
// concurrent workers never grab the same job; everything else is narrow
// single-row updates.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"support-mail-ai-go/internal/model"
)

// ErrDuplicateJob is returned by Enqueue when an active job already
// references the message. Callers skip, preserving the at-most-one-
// active-job invariant.
var ErrDuplicateJob = errors.New("queue: active job already exists for message")

// Backoff constants for retry scheduling.
const (
	backoffBase   = 30 * time.Second
	backoffCap    = time.Hour
	backoffJitter = 0.2
)

// Queue is the durable job queue.
type Queue struct {
	db *gorm.DB
}

// New creates a Queue on the given database handle.
func New(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue creates a pending job for a message. Fails with
// ErrDuplicateJob when the message already has an active job. The
// message row is locked for the duration of the check-and-insert, so
// two concurrent enqueuers (janitor racing ingestion, two janitors)
// cannot both see zero active jobs and both insert.
func (q *Queue) Enqueue(ctx context.Context, jobType string, shopID, messageID uint, payload string, priority, maxAttempts int) (uint, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	now := time.Now()
	job := model.Job{
		JobType:     jobType,
		ShopID:      shopID,
		MessageID:   messageID,
		Payload:     payload,
		Priority:    priority,
		Status:      model.JobPending,
		MaxAttempts: maxAttempts,
		NextRetryAt: &now,
	}

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked model.Message
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&locked, messageID).Error; err != nil {
			return fmt.Errorf("failed to lock message %d: %w", messageID, err)
		}

		var active int64
		if err := tx.Model(&model.Job{}).
			Where("message_id = ? AND status IN ?", messageID, []string{model.JobPending, model.JobProcessing}).
			Count(&active).Error; err != nil {
			return fmt.Errorf("failed to check for active job: %w", err)
		}
		if active > 0 {
			return ErrDuplicateJob
		}
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return job.ID, nil
}

// Dequeue atomically claims up to batchSize due pending jobs, ordered by
// priority then age, marking them processing. Row-level locking with
// SKIP LOCKED keeps concurrent callers from claiming the same job.
func (q *Queue) Dequeue(ctx context.Context, batchSize int, jobTypes []string) ([]model.Job, error) {
	var claimed []model.Job

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_retry_at <= ?", model.JobPending, time.Now())
		if len(jobTypes) > 0 {
			query = query.Where("job_type IN ?", jobTypes)
		}

		if err := query.Order("priority DESC, created_at ASC").
			Limit(batchSize).
			Find(&claimed).Error; err != nil {
			return fmt.Errorf("failed to select claimable jobs: %w", err)
		}

		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uint, len(claimed))
		for i, job := range claimed {
			ids[i] = job.ID
		}

		now := time.Now()
		if err := tx.Model(&model.Job{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{"status": model.JobProcessing, "started_at": now}).Error; err != nil {
			return fmt.Errorf("failed to mark jobs processing: %w", err)
		}

		for i := range claimed {
			claimed[i].Status = model.JobProcessing
			claimed[i].StartedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return claimed, nil
}

// Complete marks a job done. Terminal.
func (q *Queue) Complete(ctx context.Context, jobID uint, result string, processingTimeMs int64) error {
	now := time.Now()
	res := q.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":             model.JobCompleted,
			"result":             result,
			"processing_time_ms": processingTimeMs,
			"completed_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to complete job %d: %w", jobID, res.Error)
	}
	return nil
}

// Fail records a failed attempt. Retryable failures below the attempt
// cap go back to pending with exponential backoff; everything else is
// dead-lettered. Returns the job's new status.
func (q *Queue) Fail(ctx context.Context, jobID uint, errorMessage, errorType string, isRetryable bool) (string, error) {
	var newStatus string

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job model.Job
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, jobID).Error; err != nil {
			return fmt.Errorf("failed to load job %d: %w", jobID, err)
		}

		attempt := job.AttemptCount + 1
		updates := map[string]interface{}{
			"attempt_count":   attempt,
			"last_error":      errorMessage,
			"last_error_type": errorType,
		}

		if isRetryable && attempt < job.MaxAttempts {
			retryAt := time.Now().Add(RetryDelay(attempt))
			updates["status"] = model.JobPending
			updates["next_retry_at"] = retryAt
			newStatus = model.JobPending
		} else {
			updates["status"] = model.JobDeadLetter
			updates["completed_at"] = time.Now()
			newStatus = model.JobDeadLetter
		}

		if err := tx.Model(&model.Job{}).Where("id = ?", jobID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to fail job %d: %w", jobID, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return newStatus, nil
}

// Release puts a claimed job back to pending without counting an
// attempt, delayed slightly. Used when processing was skipped (e.g. the
// conversation lock was held), not when it failed.
func (q *Queue) Release(ctx context.Context, jobID uint, delay time.Duration) error {
	retryAt := time.Now().Add(delay)
	res := q.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", jobID, model.JobProcessing).
		Updates(map[string]interface{}{"status": model.JobPending, "next_retry_at": retryAt})
	if res.Error != nil {
		return fmt.Errorf("failed to release job %d: %w", jobID, res.Error)
	}
	return nil
}

// RetryDelay computes the exponential backoff with jitter for the given
// attempt number (1-based): base 30s doubling per attempt, capped at an
// hour, ±20% jitter.
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := backoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= backoffCap {
			delay = backoffCap
			break
		}
	}

	jitter := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(float64(delay) * jitter)
}

// Stats is a snapshot of the queue by status, served by the ops API.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	DeadLetter int64 `json:"dead_letter"`
}

// GetStats counts jobs by status.
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := q.db.WithContext(ctx).Model(&model.Job{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}

	stats := &Stats{}
	for _, row := range rows {
		switch row.Status {
		case model.JobPending:
			stats.Pending = row.Count
		case model.JobProcessing:
			stats.Processing = row.Count
		case model.JobCompleted:
			stats.Completed = row.Count
		case model.JobDeadLetter:
			stats.DeadLetter = row.Count
		}
	}
	return stats, nil
}

// GetDeadLetterJobs lists the most recent dead-lettered jobs.
func (q *Queue) GetDeadLetterJobs(ctx context.Context, limit int) ([]model.Job, error) {
	var jobs []model.Job
	if err := q.db.WithContext(ctx).
		Where("status = ?", model.JobDeadLetter).
		Order("completed_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to list dead letter jobs: %w", err)
	}
	return jobs, nil
}
