package httpdto

import (
	"time"

	"spacechat/internal/domain/message"

	"github.com/google/uuid"
)

type SendMessageRequest struct {
	ConversationRef string               `json:"conversation_ref"`
	Type            string               `json:"type,omitempty"`
	Content         string               `json:"content"`
	OptimisticID    string               `json:"optimistic_id,omitempty"`
	ReplyTo         uuid.UUID            `json:"reply_to,omitempty"`
	ThreadID        uuid.UUID            `json:"thread_id,omitempty"`
	Mentions        []uuid.UUID          `json:"mentions,omitempty"`
	Attachments     []message.Attachment `json:"attachments,omitempty"`
}

type EditMessageRequest struct {
	Content string `json:"content"`
}

type ForwardMessageRequest struct {
	TargetRefs []string `json:"target_refs"`
}

type ReactionRequest struct {
	Emoji    string `json:"emoji"`
	Metadata string `json:"metadata,omitempty"`
}

type MarkReadRequest struct {
	MessageID uuid.UUID `json:"message_id"`
}

type MessageView struct {
	ID              uuid.UUID        `json:"id"`
	ConversationID  uuid.UUID        `json:"conversation_id"`
	ConversationRef string           `json:"conversation_ref,omitempty"`
	SenderID        uuid.UUID        `json:"sender_id"`
	OptimisticID    string           `json:"optimistic_id,omitempty"`
	Type            string           `json:"type"`
	Content         string           `json:"content"`
	Status          string           `json:"status"`
	ReplyTo         *uuid.UUID       `json:"reply_to,omitempty"`
	ThreadID        *uuid.UUID       `json:"thread_id,omitempty"`
	ReplyCount      int              `json:"reply_count,omitempty"`
	Metadata        message.Metadata `json:"metadata"`
	EditedAt        *time.Time       `json:"edited_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

type MessagePage struct {
	Messages []MessageView `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

// NewMessageView flattens the storage row for transport.
func NewMessageView(m message.Message) MessageView {
	view := MessageView{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		ConversationRef: m.ConversationRef,
		SenderID:        m.SenderID,
		Type:            m.Type,
		Content:         m.Content.String,
		Status:          m.Status,
		ReplyCount:      m.ReplyCount,
		CreatedAt:       m.CreatedAt,
	}
	if m.ClientMessageID.Valid {
		view.OptimisticID = m.ClientMessageID.String
	}
	if m.ParentID.Valid {
		id := m.ParentID.UUID
		view.ReplyTo = &id
	}
	if m.ThreadID.Valid {
		id := m.ThreadID.UUID
		view.ThreadID = &id
	}
	if m.EditedAt.Valid {
		t := m.EditedAt.Time
		view.EditedAt = &t
	}
	view.Metadata, _ = message.DecodeMetadata(m.Metadata)
	return view
}

func NewMessageViews(list []message.Message) []MessageView {
	views := make([]MessageView, len(list))
	for i, m := range list {
		views[i] = NewMessageView(m)
	}
	return views
}
