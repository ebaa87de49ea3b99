package message

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message types
const (
	TypeText         = "TEXT"
	TypeImage        = "IMAGE"
	TypeVideo        = "VIDEO"
	TypeAudio        = "AUDIO"
	TypeFile         = "FILE"
	TypeSystem       = "SYSTEM"
	TypeReply        = "REPLY"
	TypeForward      = "FORWARD"
	TypeThread       = "THREAD"
	TypeAnnouncement = "ANNOUNCEMENT"
)

// Message statuses. Transitions move monotonically forward through
// pending -> sent -> delivered -> read; failed terminates a pending message,
// deleted terminates any message. Edits are a side-state tracked via
// EditedAt and the metadata edit history, not a status.
const (
	StatusPending   = "PENDING"
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
	StatusFailed    = "FAILED"
	StatusDeleted   = "DELETED"
)

// TombstoneContent replaces the content of soft-deleted messages.
const TombstoneContent = "This message was deleted"

var statusRank = map[string]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition reports whether a status change respects the forward-only
// ordering. Deleted is reachable from anywhere; failed only from pending.
func CanTransition(from, to string) bool {
	if to == StatusDeleted {
		return true
	}
	if to == StatusFailed {
		return from == StatusPending
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	if !ok1 || !ok2 {
		return false
	}
	return tr > fr
}

// Message represents the messages table. Optimistic instances exist only in
// memory and caches until the background transaction persists the durable
// row; ClientMessageID keeps the optimistic id resolvable afterwards.
type Message struct {
	ID              uuid.UUID
	ConversationID  uuid.UUID
	SenderID        uuid.UUID
	ClientMessageID sql.NullString
	Type            string
	Content         sql.NullString
	Status          string
	ParentID        uuid.NullUUID
	ThreadID        uuid.NullUUID
	ReplyCount      int
	ClientTimestamp time.Time
	ServerTimestamp sql.NullTime
	Metadata        string
	EditedAt        sql.NullTime
	DeletedAt       sql.NullTime
	CreatedAt       time.Time

	// ConversationRef carries the caller-facing id (possibly a virtual
	// space ref) on optimistic instances; never persisted.
	ConversationRef string `gorm:"-" json:"conversation_ref,omitempty"`
}

// Reaction represents the message_reactions table.
// Unique per (message_id, user_id, emoji).
type Reaction struct {
	ID        uuid.UUID
	MessageID uuid.UUID
	UserID    uuid.UUID
	Emoji     string
	Metadata  string
	CreatedAt time.Time
}

// Delivery represents the message_deliveries table, one row per recipient.
type Delivery struct {
	MessageID   uuid.UUID `gorm:"primaryKey"`
	UserID      uuid.UUID `gorm:"primaryKey"`
	Status      string
	DeliveredAt sql.NullTime
	ReadAt      sql.NullTime
	UpdatedAt   time.Time
}

func (Message) TableName() string {
	return "messages"
}

func (Reaction) TableName() string {
	return "message_reactions"
}

func (Delivery) TableName() string {
	return "message_deliveries"
}

// EditEntry records one prior content revision.
type EditEntry struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// Provenance records where a forwarded message came from.
type Provenance struct {
	MessageID      uuid.UUID `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
}

// Attachment describes an uploaded object referenced by the message.
type Attachment struct {
	Key         string `json:"key"`
	URL         string `json:"url,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// Metadata is the decoded form of the message metadata column.
type Metadata struct {
	Mentions      []uuid.UUID  `json:"mentions,omitempty"`
	Hashtags      []string     `json:"hashtags,omitempty"`
	Links         []string     `json:"links,omitempty"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	EditHistory   []EditEntry  `json:"edit_history,omitempty"`
	ForwardedFrom *Provenance  `json:"forwarded_from,omitempty"`
}

// DecodeMetadata parses the metadata column; an empty column decodes to the
// zero value.
func DecodeMetadata(raw string) (Metadata, error) {
	var m Metadata
	if raw == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// Encode serializes metadata for storage.
func (m Metadata) Encode() string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// RequiresUpload reports whether the message type implies an attachment.
func RequiresUpload(msgType string) bool {
	switch msgType {
	case TypeImage, TypeVideo, TypeAudio, TypeFile:
		return true
	}
	return false
}
