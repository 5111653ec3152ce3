// Package admission gates paid processing on the user's email quota.
// Reservation is a single conditional UPDATE, so concurrent workers can
// never push usage past the limit.
package admission

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"support-mail-ai-go/internal/model"
)

// ExtraPackageThreshold is how many over-quota messages accumulate
// before an extra email package is ordered automatically.
const ExtraPackageThreshold = 20

// ExtraPackageFunc is called (fire-and-forget) when a user crosses the
// over-quota threshold. Billing itself lives outside the pipeline.
type ExtraPackageFunc func(userID uint)

// Controller reserves usage credits before any paid processing step.
type Controller struct {
	db           *gorm.DB
	extraPackage ExtraPackageFunc
}

// New creates a Controller. extraPackage may be nil.
func New(db *gorm.DB, extraPackage ExtraPackageFunc) *Controller {
	return &Controller{db: db, extraPackage: extraPackage}
}

// TryReserveCredit atomically reserves one credit for the user. Returns
// false when the quota is exhausted or the account is not active. This
// is the only place a message goes from "about to cost money" to
// "billed": compare and increment happen in one statement, no
// check-then-act.
func (c *Controller) TryReserveCredit(ctx context.Context, userID uint) (bool, error) {
	res := c.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND status = ? AND (emails_limit IS NULL OR emails_used < emails_limit)",
			userID, model.UserStatusActive).
		Update("emails_used", gorm.Expr("emails_used + 1"))
	if res.Error != nil {
		return false, fmt.Errorf("failed to reserve credit for user %d: %w", userID, res.Error)
	}

	if res.RowsAffected == 1 {
		return true, nil
	}

	c.recordOverQuota(ctx, userID)
	return false, nil
}

// recordOverQuota counts messages arriving past the quota and triggers
// the extra-package purchase once the threshold accumulates. Failures
// here never block the pipeline; the message is already headed to
// pending_credits.
func (c *Controller) recordOverQuota(ctx context.Context, userID uint) {
	res := c.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND status = ? AND emails_limit IS NOT NULL AND emails_used >= emails_limit",
			userID, model.UserStatusActive).
		Update("over_quota_count", gorm.Expr("over_quota_count + 1"))
	if res.Error != nil || res.RowsAffected == 0 {
		return
	}

	var user model.User
	if err := c.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return
	}

	if ShouldOrderExtraPackage(user.OverQuotaCount) && c.extraPackage != nil {
		logrus.WithFields(logrus.Fields{
			"user_id":          userID,
			"over_quota_count": user.OverQuotaCount,
		}).Info("Over-quota threshold reached, ordering extra email package")
		go c.extraPackage(userID)
	}
}

// ShouldOrderExtraPackage reports whether the over-quota count just hit
// a threshold multiple. Triggering on exact multiples keeps the
// fire-and-forget side effect from repeating every message.
func ShouldOrderExtraPackage(overQuotaCount int) bool {
	return overQuotaCount > 0 && overQuotaCount%ExtraPackageThreshold == 0
}
