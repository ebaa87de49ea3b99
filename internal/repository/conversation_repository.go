package repository

import (
	"context"
	"database/sql"
	"time"

	"spacechat/internal/domain/conversation"
	chat_errors "spacechat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	return translateError(r.db.WithContext(ctx).Create(c).Error)
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		return conversation.Conversation{}, translateError(err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) GetBySpaceID(ctx context.Context, spaceID uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).Where("space_id = ?", spaceID).First(&c).Error
	if err != nil {
		return conversation.Conversation{}, translateError(err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) Update(ctx context.Context, c conversation.Conversation) error {
	res := r.db.WithContext(ctx).Save(&c)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return chat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) GetUserConversations(ctx context.Context, userID uuid.UUID) ([]conversation.Conversation, error) {
	var conversations []conversation.Conversation

	subQuery := r.db.Model(&conversation.Participant{}).
		Select("conversation_id").
		Where("user_id = ? AND status = ?", userID, conversation.ParticipantActive)

	err := r.db.WithContext(ctx).
		Where("id IN (?) AND status != ?", subQuery, conversation.StatusDeleted).
		Order("updated_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, translateError(err)
	}
	return conversations, nil
}

func (r *PostgresConversationRepository) HasAccess(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ? AND status = ?", conversationID, userID, conversation.ParticipantActive).
		Count(&count).Error
	if err != nil {
		return false, translateError(err)
	}
	return count > 0, nil
}

func (r *PostgresConversationRepository) GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Participant, error) {
	var p conversation.Participant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		return conversation.Participant{}, translateError(err)
	}
	return p, nil
}

func (r *PostgresConversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error) {
	var participants []conversation.Participant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC").
		Find(&participants).Error
	if err != nil {
		return nil, translateError(err)
	}
	return participants, nil
}

func (r *PostgresConversationRepository) AddParticipant(ctx context.Context, p *conversation.Participant) error {
	return translateError(r.db.WithContext(ctx).Create(p).Error)
}

func (r *PostgresConversationRepository) UpdateParticipant(ctx context.Context, p conversation.Participant) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", p.ConversationID, p.UserID).
		Updates(map[string]interface{}{
			"role":                 p.Role,
			"status":               p.Status,
			"unread_count":         p.UnreadCount,
			"last_read_message_id": p.LastReadMessageID,
			"last_read_at":         p.LastReadAt,
			"can_send_messages":    p.CanSendMessages,
			"can_upload_files":     p.CanUploadFiles,
			"can_add_members":      p.CanAddMembers,
			"can_edit_settings":    p.CanEditSettings,
			"left_at":              p.LeftAt,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return chat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) SetParticipantStatus(ctx context.Context, conversationID, userID uuid.UUID, status string) error {
	updates := map[string]interface{}{"status": status}
	if status == conversation.ParticipantActive {
		updates["left_at"] = sql.NullTime{}
		updates["joined_at"] = time.Now()
	} else {
		updates["left_at"] = sql.NullTime{Time: time.Now(), Valid: true}
	}
	res := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(updates)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return chat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) RecordActivity(ctx context.Context, conversationID, lastMessageID uuid.UUID, preview string, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"message_count":        gorm.Expr("message_count + 1"),
			"last_message_id":      lastMessageID,
			"last_message_preview": preview,
			"last_message_at":      at,
			"updated_at":           at,
		})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return chat_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) IncrementUnread(ctx context.Context, conversationID, senderID uuid.UUID) error {
	return translateError(r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id != ? AND status = ?", conversationID, senderID, conversation.ParticipantActive).
		Update("unread_count", gorm.Expr("unread_count + 1")).Error)
}

func (r *PostgresConversationRepository) ResetUnread(ctx context.Context, conversationID, userID, lastReadMessageID uuid.UUID, at time.Time) error {
	return translateError(r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]interface{}{
			"unread_count":         0,
			"last_read_message_id": lastReadMessageID,
			"last_read_at":         at,
		}).Error)
}
