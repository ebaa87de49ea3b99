package events

import (
	"time"

	"spacechat/internal/domain/conversation"
	"spacechat/internal/domain/message"

	"github.com/google/uuid"
)

// Event type constants, format: domain.action

// Message events
const (
	EventMessageSent      = "message.sent"      // optimistic, pre-persist
	EventMessageConfirmed = "message.confirmed" // durable row committed
	EventMessageFailed    = "message.failed"    // background persistence failed
	EventMessageEdited    = "message.edited"
	EventMessageDeleted   = "message.deleted"
	EventMessageRead      = "message.read"
	EventMessageMention   = "message.mention"
)

// Reaction events
const (
	EventReactionAdded   = "reaction.added"
	EventReactionRemoved = "reaction.removed"
)

// Typing and presence events
const (
	EventTypingStarted   = "typing.started"
	EventTypingStopped   = "typing.stopped"
	EventPresenceOnline  = "presence.online"
	EventPresenceOffline = "presence.offline"
)

// Conversation and participant events
const (
	EventConversationCreated = "conversation.created"
	EventConversationUpdated = "conversation.updated"
	EventParticipantAdded    = "participant.added"
	EventParticipantRemoved  = "participant.removed"
)

// Delivery events
const (
	EventDeliveryCreated      = "delivery.created"
	EventNotificationDispatch = "notification.dispatch"
)

// Redis channel prefixes
const (
	ChannelPrefixConversation = "channel:conversation:"
	ChannelPrefixUser         = "channel:user:"
)

// Event is the envelope every domain event travels in. ConversationRef
// routes to a room; TargetUserID routes to one user's connections (used for
// failure notifications); ExcludeUserID suppresses echo to the originator.
type Event struct {
	Type            string      `json:"type"`
	ConversationRef string      `json:"conversation_ref,omitempty"`
	TargetUserID    string      `json:"target_user_id,omitempty"`
	ExcludeUserID   string      `json:"exclude_user_id,omitempty"`
	Origin          string      `json:"origin,omitempty"`
	OccurredAt      time.Time   `json:"occurred_at"`
	Payload         interface{} `json:"payload,omitempty"`
}

// --- Payloads ---

type MessagePayload struct {
	Message      message.Message `json:"message"`
	OptimisticID string          `json:"optimistic_id,omitempty"`
	IsOptimistic bool            `json:"is_optimistic,omitempty"`
}

type MessageFailedPayload struct {
	OptimisticID    string `json:"optimistic_id"`
	ConversationRef string `json:"conversation_ref"`
	Error           string `json:"error"`
}

type ReadPayload struct {
	UserID    uuid.UUID `json:"user_id"`
	MessageID uuid.UUID `json:"message_id"`
	ReadAt    time.Time `json:"read_at"`
}

type ReactionPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
}

type TypingPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	IsTyping bool      `json:"is_typing"`
}

type PresencePayload struct {
	UserID uuid.UUID `json:"user_id"`
	Online bool      `json:"online"`
}

type ConversationPayload struct {
	Conversation conversation.Conversation `json:"conversation"`
}

type ParticipantPayload struct {
	Participant conversation.Participant `json:"participant"`
}

type DeliveryPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Status    string    `json:"status"`
}

type MentionPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	SenderID  uuid.UUID `json:"sender_id"`
}
