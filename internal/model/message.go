package model

import (
	"time"

	"gorm.io/gorm"
)

// Message direction values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message status values. Replied, failed and pending_human are terminal;
// a message is never mutated again once it reaches one of them.
const (
	MessagePending        = "pending"
	MessageProcessing     = "processing"
	MessageReplied        = "replied"
	MessagePendingCredits = "pending_credits"
	MessagePendingHuman   = "pending_human"
	MessageFailed         = "failed"
)

// Message is one inbound or outbound email belonging to a conversation.
// The provider MessageID is globally unique, so re-ingesting the same
// mail is a no-op.
type Message struct {
	ID             uint `json:"id" gorm:"primaryKey;autoIncrement"`
	ConversationID uint `json:"conversation_id" gorm:"index;not null"`
	ShopID         uint `json:"shop_id" gorm:"index;not null"`

	Direction string `json:"direction" gorm:"type:varchar(20);not null"`
	Status    string `json:"status" gorm:"type:varchar(50);not null;default:'pending';index"`

	// MessageID is the provider's Message-Id header, the dedup key.
	MessageID  string `json:"message_id" gorm:"type:varchar(998);not null;uniqueIndex"`
	InReplyTo  string `json:"in_reply_to" gorm:"type:varchar(998)"`
	References string `json:"references" gorm:"type:text"`

	// InReplyToMessage links an outbound reply to the inbound message it
	// answers; the resend guard keys on it.
	InReplyToMessage *uint `json:"in_reply_to_message" gorm:"index"`

	FromEmail string `json:"from_email" gorm:"type:varchar(255);not null"`
	ToEmail   string `json:"to_email" gorm:"type:varchar(255)"`
	Subject   string `json:"subject" gorm:"type:varchar(500)"`
	TextBody  string `json:"text_body" gorm:"type:mediumtext"`
	HTMLBody  string `json:"html_body" gorm:"type:mediumtext"`

	Category   string  `json:"category" gorm:"type:varchar(50)"`
	Confidence float64 `json:"confidence"`
	FailReason string  `json:"fail_reason" gorm:"type:text"`

	TokensIn  int `json:"tokens_in" gorm:"not null;default:0"`
	TokensOut int `json:"tokens_out" gorm:"not null;default:0"`

	ReceivedAt  *time.Time `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
	RepliedAt   *time.Time `json:"replied_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Message
func (Message) TableName() string {
	return "messages"
}

// Terminal reports whether the message has reached a terminal status.
func (m *Message) Terminal() bool {
	switch m.Status {
	case MessageReplied, MessageFailed, MessagePendingHuman:
		return true
	}
	return false
}
