package model

import "time"

// User account status values. Processing only proceeds for active users.
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusPastDue  = "past_due"
)

// User is the billing owner of one or more shops. EmailsUsed/EmailsLimit
// form the usage quota consumed by the admission controller; a nil limit
// means unlimited.
type User struct {
	ID     uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Email  string `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	Name   string `json:"name" gorm:"type:varchar(255)"`
	Status string `json:"status" gorm:"type:varchar(50);not null;default:'active'"`

	EmailsUsed  int  `json:"emails_used" gorm:"not null;default:0"`
	EmailsLimit *int `json:"emails_limit"`

	// OverQuotaCount tracks messages that arrived after the quota was
	// exhausted; once it crosses a threshold an extra email package is
	// ordered automatically.
	OverQuotaCount int `json:"over_quota_count" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// Unlimited reports whether the user has no email quota.
func (u *User) Unlimited() bool {
	return u.EmailsLimit == nil
}
