package model

import "time"

// Job status values.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobDeadLetter = "dead_letter"
)

// Job types.
const (
	JobTypeProcessMessage = "process_message"
)

// Job is one queued unit of work referencing one message. At most one
// active (pending/processing) job exists per message; the janitor
// reconciles violations.
type Job struct {
	ID        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	JobType   string `json:"job_type" gorm:"type:varchar(50);not null;index"`
	ShopID    uint   `json:"shop_id" gorm:"index;not null"`
	MessageID uint   `json:"message_id" gorm:"index;not null"`

	Payload  string `json:"payload" gorm:"type:text"`
	Priority int    `json:"priority" gorm:"not null;default:0;index"`

	Status       string `json:"status" gorm:"type:varchar(50);not null;default:'pending';index"`
	AttemptCount int    `json:"attempt_count" gorm:"not null;default:0"`
	MaxAttempts  int    `json:"max_attempts" gorm:"not null;default:3"`

	NextRetryAt *time.Time `json:"next_retry_at" gorm:"index"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at" gorm:"index"`

	LastError     string `json:"last_error" gorm:"type:text"`
	LastErrorType string `json:"last_error_type" gorm:"type:varchar(50)"`
	Result        string `json:"result" gorm:"type:text"`

	ProcessingTimeMs int64 `json:"processing_time_ms" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for Job
func (Job) TableName() string {
	return "jobs"
}

// Active reports whether the job still occupies its message's single
// active-job slot.
func (j *Job) Active() bool {
	return j.Status == JobPending || j.Status == JobProcessing
}
