package httpdto

import (
	"time"

	"spacechat/internal/domain/conversation"

	"github.com/google/uuid"
)

type CreateConversationRequest struct {
	Type           string      `json:"type,omitempty"`
	Name           string      `json:"name,omitempty"`
	MemberIDs      []uuid.UUID `json:"member_ids,omitempty"`
	AllowUploads   bool        `json:"allow_uploads"`
	AllowReactions bool        `json:"allow_reactions"`
}

type UpdateConversationRequest struct {
	Name            *string `json:"name,omitempty"`
	Status          *string `json:"status,omitempty"`
	AllowUploads    *bool   `json:"allow_uploads,omitempty"`
	AllowReactions  *bool   `json:"allow_reactions,omitempty"`
	RateLimitPerMin *int    `json:"rate_limit_per_min,omitempty"`
}

type AddParticipantRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role,omitempty"`
}

type PresignUploadRequest struct {
	ConversationRef string `json:"conversation_ref"`
	Filename        string `json:"filename"`
	ContentType     string `json:"content_type"`
	SizeBytes       int64  `json:"size_bytes,omitempty"`
}

type PresignUploadResponse struct {
	Key       string            `json:"key"`
	UploadURL string            `json:"upload_url"`
	Headers   map[string]string `json:"headers"`
	FileURL   string            `json:"file_url,omitempty"`
}

type ConversationView struct {
	ID                 uuid.UUID  `json:"id"`
	Ref                string     `json:"ref"`
	Type               string     `json:"type"`
	Name               string     `json:"name,omitempty"`
	Status             string     `json:"status"`
	SpaceID            *uuid.UUID `json:"space_id,omitempty"`
	ParticipantCount   int        `json:"participant_count"`
	MessageCount       int64      `json:"message_count"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	AllowUploads       bool       `json:"allow_uploads"`
	AllowReactions     bool       `json:"allow_reactions"`
	CreatedAt          time.Time  `json:"created_at"`
}

type ParticipantView struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Role           string     `json:"role"`
	Status         string     `json:"status"`
	UnreadCount    int        `json:"unread_count"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	JoinedAt       time.Time  `json:"joined_at"`
}

func NewConversationView(c conversation.Conversation) ConversationView {
	view := ConversationView{
		ID:               c.ID,
		Ref:              c.Ref(),
		Type:             c.Type,
		Name:             c.Name.String,
		Status:           c.Status,
		ParticipantCount: c.ParticipantCount,
		MessageCount:     c.MessageCount,
		AllowUploads:     c.AllowUploads,
		AllowReactions:   c.AllowReactions,
		CreatedAt:        c.CreatedAt,
	}
	if c.SpaceID.Valid {
		id := c.SpaceID.UUID
		view.SpaceID = &id
	}
	if c.LastMessagePreview.Valid {
		view.LastMessagePreview = c.LastMessagePreview.String
	}
	if c.LastMessageAt.Valid {
		t := c.LastMessageAt.Time
		view.LastMessageAt = &t
	}
	return view
}

func NewConversationViews(list []conversation.Conversation) []ConversationView {
	views := make([]ConversationView, len(list))
	for i, c := range list {
		views[i] = NewConversationView(c)
	}
	return views
}

func NewParticipantView(p conversation.Participant) ParticipantView {
	view := ParticipantView{
		ConversationID: p.ConversationID,
		UserID:         p.UserID,
		Role:           p.Role,
		Status:         p.Status,
		UnreadCount:    p.UnreadCount,
		JoinedAt:       p.JoinedAt,
	}
	if p.LastReadAt.Valid {
		t := p.LastReadAt.Time
		view.LastReadAt = &t
	}
	return view
}

func NewParticipantViews(list []conversation.Participant) []ParticipantView {
	views := make([]ParticipantView, len(list))
	for i, p := range list {
		views[i] = NewParticipantView(p)
	}
	return views
}
