package repository

import (
	"context"

	"spacechat/internal/domain/conversation"
	"spacechat/internal/domain/message"
	chat_errors "spacechat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	return translateError(r.db.WithContext(ctx).Create(m).Error)
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		return message.Message{}, translateError(err)
	}
	return m, nil
}

func (r *PostgresMessageRepository) GetByClientMessageID(ctx context.Context, clientMessageID string) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("client_message_id = ?", clientMessageID).First(&m).Error
	if err != nil {
		return message.Message{}, translateError(err)
	}
	return m, nil
}

func (r *PostgresMessageRepository) Update(ctx context.Context, m message.Message) error {
	res := r.db.WithContext(ctx).Save(&m)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return chat_errors.ErrNotFound
	}
	return nil
}

// List pages through a conversation's messages in chronological order.
// Cursors are message ids resolved to their server timestamps; the query
// fetches limit+1 rows to learn whether more remain. Soft-deleted messages
// are excluded by status, not by physical absence.
func (r *PostgresMessageRepository) List(ctx context.Context, conversationID uuid.UUID, page Page) ([]message.Message, bool, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 50
	}

	q := r.db.WithContext(ctx).
		Where("conversation_id = ? AND status != ?", conversationID, message.StatusDeleted)

	descending := true
	if page.Before != uuid.Nil {
		anchor, err := r.GetByID(ctx, page.Before)
		if err != nil {
			return nil, false, err
		}
		q = q.Where("created_at < ?", anchor.CreatedAt)
	} else if page.After != uuid.Nil {
		anchor, err := r.GetByID(ctx, page.After)
		if err != nil {
			return nil, false, err
		}
		q = q.Where("created_at > ?", anchor.CreatedAt)
		descending = false
	}

	order := "created_at ASC"
	if descending {
		order = "created_at DESC"
	}

	var messages []message.Message
	if err := q.Order(order).Limit(limit + 1).Find(&messages).Error; err != nil {
		return nil, false, translateError(err)
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	if descending {
		for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
			messages[i], messages[j] = messages[j], messages[i]
		}
	}
	return messages, hasMore, nil
}

// Search runs a substring match over messages in conversations the user is
// an active participant of.
func (r *PostgresMessageRepository) Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	subQuery := r.db.Model(&conversation.Participant{}).
		Select("conversation_id").
		Where("user_id = ? AND status = ?", userID, conversation.ParticipantActive)

	var messages []message.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id IN (?) AND status != ? AND content ILIKE ?",
			subQuery, message.StatusDeleted, "%"+query+"%").
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, translateError(err)
	}
	return messages, nil
}

func (r *PostgresMessageRepository) AddReaction(ctx context.Context, reaction *message.Reaction) error {
	return translateError(r.db.WithContext(ctx).Create(reaction).Error)
}

func (r *PostgresMessageRepository) GetReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (message.Reaction, error) {
	var reaction message.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		First(&reaction).Error
	if err != nil {
		return message.Reaction{}, translateError(err)
	}
	return reaction, nil
}

func (r *PostgresMessageRepository) UpdateReaction(ctx context.Context, reaction message.Reaction) error {
	res := r.db.WithContext(ctx).
		Model(&message.Reaction{}).
		Where("message_id = ? AND user_id = ? AND emoji = ?", reaction.MessageID, reaction.UserID, reaction.Emoji).
		Update("metadata", reaction.Metadata)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return chat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) RemoveReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) error {
	res := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&message.Reaction{})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return chat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) GetReactions(ctx context.Context, messageID uuid.UUID) ([]message.Reaction, error) {
	var reactions []message.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, translateError(err)
	}
	return reactions, nil
}

func (r *PostgresMessageRepository) CreateDelivery(ctx context.Context, d *message.Delivery) error {
	return translateError(r.db.WithContext(ctx).Create(d).Error)
}

func (r *PostgresMessageRepository) UpdateDelivery(ctx context.Context, d message.Delivery) error {
	res := r.db.WithContext(ctx).
		Model(&message.Delivery{}).
		Where("message_id = ? AND user_id = ?", d.MessageID, d.UserID).
		Updates(map[string]interface{}{
			"status":       d.Status,
			"delivered_at": d.DeliveredAt,
			"read_at":      d.ReadAt,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return chat_errors.ErrNotFound
	}
	return nil
}
