package model

import (
	"time"

	"gorm.io/gorm"
)

// Shop represents one tenant store whose mailbox is monitored.
// Credentials are stored encrypted; the vault decrypts them on demand.
// Shops are mutated by the admin UI, the pipeline only reads them and
// records sync results.
type Shop struct {
	ID     uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID uint   `json:"user_id" gorm:"index;not null"`
	Name   string `json:"name" gorm:"type:varchar(255);not null"`

	// MailboxAddress is the shop's own outgoing address. Mail from this
	// address is never ingested, to avoid self-loops.
	MailboxAddress string `json:"mailbox_address" gorm:"type:varchar(255);not null"`

	// SupportEmail receives forwarded copies of conversations escalated
	// to a human.
	SupportEmail string `json:"support_email" gorm:"type:varchar(255)"`

	// Encrypted JSON blobs, see vault.Vault.
	MailCredentialsEnc     []byte `json:"-" gorm:"type:blob"`
	CommerceCredentialsEnc []byte `json:"-" gorm:"type:blob"`

	// Reply policy, applied verbatim by the responder.
	ReplyTone            string `json:"reply_tone" gorm:"type:varchar(50)"`
	DeliveryInfo         string `json:"delivery_info" gorm:"type:text"`
	WarrantyInfo         string `json:"warranty_info" gorm:"type:text"`
	RetentionCouponTerms string `json:"retention_coupon_terms" gorm:"type:text"`

	Active             bool       `json:"active" gorm:"default:true;index"`
	IntegrationStartAt *time.Time `json:"integration_start_at"`
	LastSyncAt         *time.Time `json:"last_sync_at" gorm:"index"`
	LastSyncError      string     `json:"last_sync_error" gorm:"type:text"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for Shop
func (Shop) TableName() string {
	return "shops"
}
