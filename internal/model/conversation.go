package model

import (
	"time"

	"gorm.io/gorm"
)

// Conversation status values.
const (
	ConversationOpen         = "open"
	ConversationReplied      = "replied"
	ConversationPendingHuman = "pending_human"
	ConversationClosed       = "closed"
)

// Message categories returned by the classifier.
const (
	CategorySpam         = "spam"
	CategoryGeneral      = "duvidas_gerais"
	CategoryTracking     = "rastreio"
	CategoryReturnRefund = "troca_devolucao_reembolso"
	CategoryOrderEdit    = "edicao_pedido"
	CategoryHumanSupport = "suporte_humano"
)

// CategoryRequiresOrder reports whether a category needs order context
// before an AI reply may be generated. General questions never do.
func CategoryRequiresOrder(category string) bool {
	switch category {
	case CategoryTracking, CategoryReturnRefund, CategoryOrderEdit:
		return true
	}
	return false
}

// Conversation is one thread with one customer for one shop. At most one
// conversation exists per (shop, customer email, normalized subject),
// enforced by the unique index on SubjectKey.
type Conversation struct {
	ID     uint `json:"id" gorm:"primaryKey;autoIncrement"`
	ShopID uint `json:"shop_id" gorm:"not null;uniqueIndex:idx_conv_thread,priority:1"`

	CustomerEmail string `json:"customer_email" gorm:"type:varchar(255);not null;uniqueIndex:idx_conv_thread,priority:2"`
	CustomerName  string `json:"customer_name" gorm:"type:varchar(255)"`
	Subject       string `json:"subject" gorm:"type:varchar(500)"`

	// SubjectKey is the normalized subject with Re:/Fwd: prefixes and
	// whitespace stripped, used for thread matching.
	SubjectKey string `json:"subject_key" gorm:"type:varchar(500);not null;uniqueIndex:idx_conv_thread,priority:3"`

	Category *string `json:"category" gorm:"type:varchar(50)"`
	Status   string  `json:"status" gorm:"type:varchar(50);not null;default:'open';index"`
	Language string  `json:"language" gorm:"type:varchar(10)"`

	// DataRequestCount bounds how many times the customer is asked for
	// an order number before the thread is escalated.
	DataRequestCount int `json:"data_request_count" gorm:"not null;default:0"`

	// ShopifyOrderID caches a resolved order so later messages on the
	// thread skip the commerce lookup.
	ShopifyOrderID string `json:"shopify_order_id" gorm:"type:varchar(100)"`

	RetentionContactCount int `json:"retention_contact_count" gorm:"not null;default:0"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Conversation
func (Conversation) TableName() string {
	return "conversations"
}
