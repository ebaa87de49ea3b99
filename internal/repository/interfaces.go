package repository

import (
	"context"
	"time"

	"spacechat/internal/domain/conversation"
	"spacechat/internal/domain/message"
	"spacechat/internal/domain/user"

	"github.com/google/uuid"
)

// Page describes a cursor window over a conversation's messages. Before and
// After are message ids resolved to their timestamps by the repository.
type Page struct {
	Limit  int
	Before uuid.UUID
	After  uuid.UUID
}

type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (user.User, error)
}

type ConversationRepository interface {
	Create(ctx context.Context, c *conversation.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	GetBySpaceID(ctx context.Context, spaceID uuid.UUID) (conversation.Conversation, error)
	Update(ctx context.Context, c conversation.Conversation) error
	GetUserConversations(ctx context.Context, userID uuid.UUID) ([]conversation.Conversation, error)

	HasAccess(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	GetParticipant(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Participant, error)
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]conversation.Participant, error)
	AddParticipant(ctx context.Context, p *conversation.Participant) error
	UpdateParticipant(ctx context.Context, p conversation.Participant) error
	SetParticipantStatus(ctx context.Context, conversationID, userID uuid.UUID, status string) error

	// RecordActivity updates the conversation's last-message preview and counters.
	RecordActivity(ctx context.Context, conversationID, lastMessageID uuid.UUID, preview string, at time.Time) error
	// IncrementUnread bumps the durable unread counter for every active
	// participant except the sender.
	IncrementUnread(ctx context.Context, conversationID, senderID uuid.UUID) error
	// ResetUnread clears a participant's unread counter and advances the
	// last-read pointer.
	ResetUnread(ctx context.Context, conversationID, userID, lastReadMessageID uuid.UUID, at time.Time) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	GetByClientMessageID(ctx context.Context, clientMessageID string) (message.Message, error)
	Update(ctx context.Context, m message.Message) error
	List(ctx context.Context, conversationID uuid.UUID, page Page) ([]message.Message, bool, error)
	Search(ctx context.Context, userID uuid.UUID, query string, limit int) ([]message.Message, error)

	AddReaction(ctx context.Context, r *message.Reaction) error
	GetReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) (message.Reaction, error)
	// UpdateReaction rewrites an existing reaction's metadata.
	UpdateReaction(ctx context.Context, r message.Reaction) error
	RemoveReaction(ctx context.Context, messageID, userID uuid.UUID, emoji string) error
	GetReactions(ctx context.Context, messageID uuid.UUID) ([]message.Reaction, error)

	CreateDelivery(ctx context.Context, d *message.Delivery) error
	UpdateDelivery(ctx context.Context, d message.Delivery) error
}

// Transactor runs a function against transaction-scoped repositories.
// The send pipeline's background persistence is its main consumer.
type Transactor interface {
	Transact(ctx context.Context, fn func(convs ConversationRepository, msgs MessageRepository) error) error
}
