package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"support-mail-ai-go/internal/heuristics"
	"support-mail-ai-go/internal/model"
)

// ResolveConversation finds the conversation an inbound email belongs to
// or creates one. Matching order: the In-Reply-To header (strongest
// signal), then the (shop, customer email, normalized subject) thread
// key. The unique index on the thread key makes concurrent creation of
// the same thread collapse to one row.
func (s *Store) ResolveConversation(ctx context.Context, shopID uint, customerEmail, customerName, subject, inReplyTo string) (*model.Conversation, bool, error) {
	customerEmail = strings.ToLower(strings.TrimSpace(customerEmail))
	subjectKey := heuristics.NormalizeSubject(subject)

	if inReplyTo != "" {
		var parent model.Message
		err := s.db.WithContext(ctx).
			Where("message_id = ? AND shop_id = ?", inReplyTo, shopID).
			First(&parent).Error
		if err == nil {
			conv, err := s.getConversation(ctx, parent.ConversationID)
			if err != nil {
				return nil, false, err
			}
			return conv, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("failed to resolve in-reply-to: %w", err)
		}
	}

	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("shop_id = ? AND customer_email = ? AND subject_key = ?", shopID, customerEmail, subjectKey).
		First(&conv).Error
	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up conversation: %w", err)
	}

	conv = model.Conversation{
		ShopID:        shopID,
		CustomerEmail: customerEmail,
		CustomerName:  customerName,
		Subject:       subject,
		SubjectKey:    subjectKey,
		Status:        model.ConversationOpen,
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		// Lost a race on the unique thread index; the winner's row is
		// the conversation.
		var existing model.Conversation
		lookupErr := s.db.WithContext(ctx).
			Where("shop_id = ? AND customer_email = ? AND subject_key = ?", shopID, customerEmail, subjectKey).
			First(&existing).Error
		if lookupErr == nil {
			return &existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	return &conv, true, nil
}

// GetConversation returns one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id uint) (*model.Conversation, error) {
	return s.getConversation(ctx, id)
}

func (s *Store) getConversation(ctx context.Context, id uint) (*model.Conversation, error) {
	var conv model.Conversation
	if err := s.db.WithContext(ctx).First(&conv, id).Error; err != nil {
		return nil, fmt.Errorf("failed to get conversation %d: %w", id, err)
	}
	return &conv, nil
}

// UpdateConversation applies the given column updates to one
// conversation row.
func (s *Store) UpdateConversation(ctx context.Context, id uint, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update conversation %d: %w", id, result.Error)
	}
	return nil
}

// IncrementDataRequestCount bumps the bounded "please send your order
// number" counter and returns the new value.
func (s *Store) IncrementDataRequestCount(ctx context.Context, id uint) (int, error) {
	result := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("data_request_count", gorm.Expr("data_request_count + 1"))
	if result.Error != nil {
		return 0, fmt.Errorf("failed to increment data request count: %w", result.Error)
	}

	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return 0, err
	}
	return conv.DataRequestCount, nil
}

// IncrementRetentionContact bumps the frustrated-contact counter feeding
// the responder's retention flow.
func (s *Store) IncrementRetentionContact(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Update("retention_contact_count", gorm.Expr("retention_contact_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to increment retention contact count: %w", result.Error)
	}
	return nil
}
