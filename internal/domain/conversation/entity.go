package conversation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Conversation types
const (
	TypeDirect    = "DIRECT"
	TypeGroup     = "GROUP"
	TypeSpace     = "SPACE"
	TypeCommunity = "COMMUNITY"
)

// Conversation statuses
const (
	StatusActive   = "ACTIVE"
	StatusArchived = "ARCHIVED"
	StatusDeleted  = "DELETED"
	StatusMuted    = "MUTED"
)

// Participant roles, ordered by authority
const (
	RoleOwner     = "OWNER"
	RoleAdmin     = "ADMIN"
	RoleModerator = "MODERATOR"
	RoleMember    = "MEMBER"
)

// Participant statuses
const (
	ParticipantActive  = "ACTIVE"
	ParticipantLeft    = "LEFT"
	ParticipantRemoved = "REMOVED"
	ParticipantBanned  = "BANNED"
	ParticipantMuted   = "MUTED"
)

// Conversation represents the conversations table. Conversations are never
// hard-deleted on the hot path; status transitions only.
type Conversation struct {
	ID                 uuid.UUID
	Type               string
	Name               sql.NullString
	Status             string
	SpaceID            uuid.NullUUID
	CreatedBy          uuid.NullUUID
	ParticipantCount   int
	MessageCount       int64
	LastMessageID      uuid.NullUUID
	LastMessagePreview sql.NullString
	LastMessageAt      sql.NullTime
	AllowUploads       bool
	AllowReactions     bool
	RateLimitPerMin    int
	Metadata           string
	CreatedAt          time.Time
	UpdatedAt          time.Time

	// Relationships
	Participants []Participant

	// Synthetic marks an in-memory stand-in with no durable row yet
	// (space chat before its first persisted message).
	Synthetic bool `gorm:"-" json:"-"`
}

// Participant represents the participants table.
// Invariant: at most one row per (conversation_id, user_id).
type Participant struct {
	ConversationID    uuid.UUID `gorm:"primaryKey"`
	UserID            uuid.UUID `gorm:"primaryKey"`
	Role              string
	Status            string
	UnreadCount       int
	LastReadMessageID uuid.NullUUID
	LastReadAt        sql.NullTime
	TypingAt          sql.NullTime
	CanSendMessages   bool
	CanUploadFiles    bool
	CanAddMembers     bool
	CanEditSettings   bool
	JoinedAt          time.Time
	LeftAt            sql.NullTime

	Synthetic bool `gorm:"-" json:"-"`
}

func (Conversation) TableName() string {
	return "conversations"
}

func (Participant) TableName() string {
	return "participants"
}

// Ref returns the caller-facing ref: the space ref for space-backed
// conversations, the raw id otherwise. Rooms and event channels key on it.
func (c Conversation) Ref() string {
	if c.SpaceID.Valid {
		return SpaceRefPrefix + c.SpaceID.UUID.String()
	}
	return c.ID.String()
}

// roleRank orders roles for authority checks: owner > admin > moderator > member.
var roleRank = map[string]int{
	RoleOwner:     4,
	RoleAdmin:     3,
	RoleModerator: 2,
	RoleMember:    1,
}

// Outranks reports whether role a carries strictly more authority than role b.
func Outranks(a, b string) bool {
	return roleRank[a] > roleRank[b]
}

// IsActive reports whether the participant may act in the conversation at all.
func (p Participant) IsActive() bool {
	return p.Status == ParticipantActive
}

// WithUnreadIncrement returns a copy with the unread counter bumped.
// Participants are treated as immutable records; mutation helpers return new
// values so cache payloads are never shared mutable state.
func (p Participant) WithUnreadIncrement() Participant {
	p.UnreadCount++
	return p
}

// WithReadPointer returns a copy with the last-read pointer advanced.
func (p Participant) WithReadPointer(messageID uuid.UUID, at time.Time) Participant {
	p.UnreadCount = 0
	p.LastReadMessageID = uuid.NullUUID{UUID: messageID, Valid: true}
	p.LastReadAt = sql.NullTime{Time: at, Valid: true}
	return p
}

// Rejoined returns a copy reset to active membership.
func (p Participant) Rejoined(at time.Time) Participant {
	p.Status = ParticipantActive
	p.LeftAt = sql.NullTime{}
	p.JoinedAt = at
	return p
}

// NewSpaceParticipant builds the synthetic participant granted to any member
// of a space: full send/upload rights, no moderation rights. The relaxed
// grant is an explicit simplification of space ACL enforcement.
func NewSpaceParticipant(conversationID, userID uuid.UUID) Participant {
	return Participant{
		ConversationID:  conversationID,
		UserID:          userID,
		Role:            RoleMember,
		Status:          ParticipantActive,
		CanSendMessages: true,
		CanUploadFiles:  true,
		JoinedAt:        time.Now(),
		Synthetic:       true,
	}
}

// NewSpaceConversation builds the synthetic conversation standing in for a
// space chat that has no backing row yet.
func NewSpaceConversation(id, spaceID uuid.UUID) Conversation {
	return Conversation{
		ID:             id,
		Type:           TypeSpace,
		Status:         StatusActive,
		SpaceID:        uuid.NullUUID{UUID: spaceID, Valid: true},
		AllowUploads:   true,
		AllowReactions: true,
		CreatedAt:      time.Now(),
		Synthetic:      true,
	}
}
