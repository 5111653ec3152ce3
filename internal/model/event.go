package model

import "time"

// OwnerNotice records an email sent to a shop owner (e.g. a credits
// exhausted warning) so the same kind of notice is rate limited.
type OwnerNotice struct {
	ID     uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID uint   `json:"user_id" gorm:"index;not null"`
	Kind   string `json:"kind" gorm:"type:varchar(50);not null;index"`
	SentAt time.Time `json:"sent_at" gorm:"not null;index"`
}

// TableName specifies the table name for OwnerNotice
func (OwnerNotice) TableName() string {
	return "owner_notices"
}

// Owner notice kinds.
const (
	NoticeCreditsExhausted = "credits_exhausted"
)

// ProcessingEvent is the structured audit trail of message status
// transitions, one row per transition taken by the worker or janitor.
type ProcessingEvent struct {
	ID        uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID uint   `json:"message_id" gorm:"index;not null"`
	JobID     uint   `json:"job_id" gorm:"index"`
	FromState string `json:"from_state" gorm:"type:varchar(50)"`
	ToState   string `json:"to_state" gorm:"type:varchar(50);not null"`
	Detail    string `json:"detail" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for ProcessingEvent
func (ProcessingEvent) TableName() string {
	return "processing_events"
}
