package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"support-mail-ai-go/internal/model"
)

// Store is the single source of truth for shops, users, conversations
// and messages. All status changes are narrow single-row updates; no
// transaction spans an external call.
type Store struct {
	db *gorm.DB
}

// New creates a Store on the given database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ActiveShops returns active shops with mailbox credentials configured,
// oldest-synced first so no tenant starves.
func (s *Store) ActiveShops(ctx context.Context) ([]model.Shop, error) {
	var shops []model.Shop
	result := s.db.WithContext(ctx).
		Where("active = ? AND mail_credentials_enc IS NOT NULL", true).
		Order("last_sync_at IS NULL DESC, last_sync_at ASC").
		Find(&shops)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get active shops: %w", result.Error)
	}
	return shops, nil
}

// GetShop returns one shop by id.
func (s *Store) GetShop(ctx context.Context, id uint) (*model.Shop, error) {
	var shop model.Shop
	if err := s.db.WithContext(ctx).First(&shop, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get shop %d: %w", id, err)
	}
	return &shop, nil
}

// RecordShopSync stamps the shop's last sync time and error. An empty
// syncErr clears a previous error.
func (s *Store) RecordShopSync(ctx context.Context, shopID uint, syncErr string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&model.Shop{}).
		Where("id = ?", shopID).
		Updates(map[string]interface{}{"last_sync_at": now, "last_sync_error": syncErr})
	if result.Error != nil {
		return fmt.Errorf("failed to record shop sync: %w", result.Error)
	}
	return nil
}

// GetUser returns one user by id.
func (s *Store) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

// MessageExists reports whether a message with the given provider
// message id is already recorded. Re-ingesting the same mail is a no-op.
func (s *Store) MessageExists(ctx context.Context, providerMessageID string) (bool, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("message_id = ?", providerMessageID).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check message existence: %w", result.Error)
	}
	return count > 0, nil
}

// CreateMessage persists a new message row.
func (s *Store) CreateMessage(ctx context.Context, msg *model.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetMessage returns one message by id.
func (s *Store) GetMessage(ctx context.Context, id uint) (*model.Message, error) {
	var msg model.Message
	if err := s.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get message %d: %w", id, err)
	}
	return &msg, nil
}

// TransitionMessage conditionally moves a message from one status to
// another. Returns false when the message was no longer in the expected
// status, which callers treat as "someone else got here first".
func (s *Store) TransitionMessage(ctx context.Context, id uint, from, to string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition message %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// UpdateMessage applies the given column updates to one message row.
func (s *Store) UpdateMessage(ctx context.Context, id uint, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update message %d: %w", id, result.Error)
	}
	return nil
}

// OutboundReplyFor returns the outbound reply answering the given
// inbound message, or nil. This is the resend guard: a retried job whose
// reply already exists must not send again.
func (s *Store) OutboundReplyFor(ctx context.Context, inboundID uint) (*model.Message, error) {
	var msg model.Message
	result := s.db.WithContext(ctx).
		Where("direction = ? AND in_reply_to_message = ?", model.DirectionOutbound, inboundID).
		First(&msg)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to look up outbound reply: %w", result.Error)
	}
	return &msg, nil
}

// CountRecentOutbound counts outbound messages on a conversation since
// the given time. Feeds the bot-loop breaker.
func (s *Store) CountRecentOutbound(ctx context.Context, conversationID uint, since time.Time) (int, error) {
	var count int64
	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("conversation_id = ? AND direction = ? AND created_at >= ?",
			conversationID, model.DirectionOutbound, since).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count recent outbound: %w", result.Error)
	}
	return int(count), nil
}

// GetPendingMessages returns pending inbound messages for a shop,
// oldest first.
func (s *Store) GetPendingMessages(ctx context.Context, shopID uint, limit int) ([]model.Message, error) {
	var msgs []model.Message
	result := s.db.WithContext(ctx).
		Where("shop_id = ? AND direction = ? AND status = ?", shopID, model.DirectionInbound, model.MessagePending).
		Order("created_at ASC").
		Limit(limit).
		Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get pending messages: %w", result.Error)
	}
	return msgs, nil
}

// GetConversationHistory returns the most recent messages of a
// conversation in chronological order.
func (s *Store) GetConversationHistory(ctx context.Context, conversationID uint, limit int) ([]model.Message, error) {
	var msgs []model.Message
	result := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", result.Error)
	}
	// Reverse to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LogEvent appends one processing event to the audit trail. Event
// logging is best-effort and never fails the pipeline.
func (s *Store) LogEvent(ctx context.Context, messageID, jobID uint, fromState, toState, detail string) {
	event := model.ProcessingEvent{
		MessageID: messageID,
		JobID:     jobID,
		FromState: fromState,
		ToState:   toState,
		Detail:    detail,
	}
	s.db.WithContext(ctx).Create(&event)
}
