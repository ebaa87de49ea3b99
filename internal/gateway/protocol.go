package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Inbound frame types.
const (
	InJoinConversation   = "join_conversation"
	InLeaveConversation  = "leave_conversation"
	InTypingStart        = "typing_start"
	InTypingStop         = "typing_stop"
	InMarkMessagesRead   = "mark_messages_read"
	InSendMessage        = "send_message"
	InRequestOnlineUsers = "request_online_users"
)

// Outbound frame types.
const (
	OutNewMessage          = "new_message"
	OutMessageConfirmed    = "message_confirmed"
	OutMessageFailed       = "message_failed"
	OutMessageEdited       = "message_edited"
	OutMessageDeleted      = "message_deleted"
	OutMessagesRead        = "messages_read"
	OutReactionAdded       = "reaction_added"
	OutReactionRemoved     = "reaction_removed"
	OutConversationCreated = "conversation_created"
	OutConversationUpdated = "conversation_updated"
	OutParticipantAdded    = "participant_added"
	OutParticipantRemoved  = "participant_removed"
	OutUserTyping          = "user_typing"
	OutUserStatusChanged   = "user_status_changed"
	OutJoinedConversation  = "joined_conversation"
	OutLeftConversation    = "left_conversation"
	OutOnlineUsers         = "online_users"
	OutConnectionSuccess   = "connection_success"
	OutMentioned           = "mentioned"
	OutError               = "error"
)

// InboundFrame is one client-to-server message.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame is one server-to-client message.
type OutboundFrame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func encodeFrame(frameType string, data interface{}) []byte {
	payload, err := json.Marshal(OutboundFrame{
		Type:      frameType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return []byte(`{"type":"error"}`)
	}
	return payload
}

// JoinRequest and its siblings are the inbound frame payloads.
type JoinRequest struct {
	ConversationRef string `json:"conversation_ref"`
}

type TypingRequest struct {
	ConversationRef string `json:"conversation_ref"`
}

type MarkReadRequest struct {
	ConversationRef string    `json:"conversation_ref"`
	MessageID       uuid.UUID `json:"message_id"`
}

type SendMessageRequest struct {
	ConversationRef string      `json:"conversation_ref"`
	Type            string      `json:"type,omitempty"`
	Content         string      `json:"content"`
	OptimisticID    string      `json:"optimistic_id,omitempty"`
	ReplyTo         uuid.UUID   `json:"reply_to,omitempty"`
	ThreadID        uuid.UUID   `json:"thread_id,omitempty"`
	Mentions        []uuid.UUID `json:"mentions,omitempty"`
}

type OnlineUsersRequest struct {
	ConversationRef string `json:"conversation_ref"`
}

// OnlineUsersResponse lists the online members of one conversation.
type OnlineUsersResponse struct {
	ConversationRef string   `json:"conversation_ref"`
	UserIDs         []string `json:"user_ids"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
