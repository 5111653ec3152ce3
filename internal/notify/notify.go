// Package notify sends operational emails to shop owners, rate limited
// so a burst of failing messages never floods the owner's inbox.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"support-mail-ai-go/internal/mailbox"
	"support-mail-ai-go/internal/model"
	"support-mail-ai-go/internal/vault"
)

// noticeInterval is the minimum gap between two notices of the same
// kind to the same user.
const noticeInterval = time.Hour

// Notifier sends rate-limited owner notices through the shop's own
// mailbox.
type Notifier struct {
	db *gorm.DB
}

// New creates a Notifier on the given database handle.
func New(db *gorm.DB) *Notifier {
	return &Notifier{db: db}
}

// NotifyCreditsExhausted warns the shop owner that messages are piling
// up unanswered because the email quota ran out. At most one warning per
// hour per user.
func (n *Notifier) NotifyCreditsExhausted(ctx context.Context, user *model.User, shop *model.Shop, creds *vault.MailboxCredentials, gateway mailbox.Gateway) error {
	recent, err := n.sentRecently(ctx, user.ID, model.NoticeCreditsExhausted)
	if err != nil {
		return err
	}
	if recent {
		logrus.Debugf("Credits notice for user %d suppressed by rate limit", user.ID)
		return nil
	}

	body := fmt.Sprintf(
		"Olá %s,\n\nSua loja %s recebeu novos emails de clientes, mas o limite de emails do seu plano foi atingido. "+
			"As mensagens ficarão aguardando até que o limite seja renovado ou um pacote extra seja adicionado.\n\n"+
			"Equipe de atendimento automático",
		user.Name, shop.Name)

	_, err = gateway.Send(ctx, creds, mailbox.OutboundEmail{
		To:       user.Email,
		Subject:  fmt.Sprintf("[%s] Limite de emails atingido", shop.Name),
		TextBody: body,
		FromName: shop.Name,
	})
	if err != nil {
		return fmt.Errorf("failed to send credits notice: %w", err)
	}

	n.record(ctx, user.ID, model.NoticeCreditsExhausted)
	return nil
}

func (n *Notifier) sentRecently(ctx context.Context, userID uint, kind string) (bool, error) {
	var count int64
	err := n.db.WithContext(ctx).Model(&model.OwnerNotice{}).
		Where("user_id = ? AND kind = ? AND sent_at > ?", userID, kind, time.Now().Add(-noticeInterval)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check notice history: %w", err)
	}
	return count > 0, nil
}

func (n *Notifier) record(ctx context.Context, userID uint, kind string) {
	notice := model.OwnerNotice{UserID: userID, Kind: kind, SentAt: time.Now()}
	if err := n.db.WithContext(ctx).Create(&notice).Error; err != nil {
		logrus.Errorf("Failed to record owner notice: %v", err)
	}
}
