package model

import "time"

// ConversationLock is an advisory, non-durable mutual-exclusion row keyed
// by conversation id. It is held for the duration of one processing
// attempt and protects against two jobs for the same thread running
// concurrently, across worker processes. Expired locks are stolen, never
// trusted.
type ConversationLock struct {
	ConversationID uint      `json:"conversation_id" gorm:"primaryKey"`
	LockedBy       string    `json:"locked_by" gorm:"type:varchar(100);not null"`
	ExpiresAt      time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName specifies the table name for ConversationLock
func (ConversationLock) TableName() string {
	return "conversation_locks"
}
