package chat

import (
	"context"
	"errors"
	"time"

	"spacechat/internal/cache"
	"spacechat/internal/domain/conversation"
	"spacechat/internal/events"
	"spacechat/internal/repository"
	chat_errors "spacechat/pkg/errors"
	"spacechat/pkg/logger"

	"github.com/google/uuid"
)

// CreateConversationRequest carries the creation parameters.
type CreateConversationRequest struct {
	Type           string
	Name           string
	MemberIDs      []uuid.UUID
	AllowUploads   bool
	AllowReactions bool
}

// UpdateConversationRequest carries settings changes. Nil fields are left
// untouched.
type UpdateConversationRequest struct {
	Name            *string
	Status          *string
	AllowUploads    *bool
	AllowReactions  *bool
	RateLimitPerMin *int
}

// ConversationService manages conversation lifecycle and membership.
type ConversationService struct {
	reader *cache.Reader
	convs  repository.ConversationRepository
	bus    events.Bus
	log    *logger.Logger
	clock  func() time.Time
}

func NewConversationService(reader *cache.Reader, convs repository.ConversationRepository, bus events.Bus, log *logger.Logger) *ConversationService {
	if log == nil {
		log = logger.NewNop()
	}
	return &ConversationService{
		reader: reader,
		convs:  convs,
		bus:    bus,
		log:    log,
		clock:  time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *ConversationService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Create persists a new conversation with the creator as owner and the
// given members.
func (s *ConversationService) Create(ctx context.Context, creatorID uuid.UUID, req CreateConversationRequest) (conversation.Conversation, error) {
	switch req.Type {
	case conversation.TypeDirect, conversation.TypeGroup, conversation.TypeCommunity:
	case "":
		req.Type = conversation.TypeGroup
	default:
		return conversation.Conversation{}, chat_errors.ErrInvalidInput
	}
	if req.Type == conversation.TypeDirect && len(req.MemberIDs) != 1 {
		return conversation.Conversation{}, chat_errors.ErrInvalidInput
	}

	now := s.clock()
	conv := conversation.Conversation{
		ID:             uuid.New(),
		Type:           req.Type,
		Status:         conversation.StatusActive,
		CreatedBy:      uuid.NullUUID{UUID: creatorID, Valid: true},
		AllowUploads:   req.AllowUploads,
		AllowReactions: req.AllowReactions,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if req.Name != "" {
		conv.Name.String = req.Name
		conv.Name.Valid = true
	}

	if err := s.convs.Create(ctx, &conv); err != nil {
		return conversation.Conversation{}, err
	}

	owner := conversation.Participant{
		ConversationID:  conv.ID,
		UserID:          creatorID,
		Role:            conversation.RoleOwner,
		Status:          conversation.ParticipantActive,
		CanSendMessages: true,
		CanUploadFiles:  true,
		CanAddMembers:   true,
		CanEditSettings: true,
		JoinedAt:        now,
	}
	if err := s.convs.AddParticipant(ctx, &owner); err != nil {
		return conversation.Conversation{}, err
	}
	conv.ParticipantCount = 1

	for _, memberID := range req.MemberIDs {
		if memberID == creatorID {
			continue
		}
		member := conversation.Participant{
			ConversationID:  conv.ID,
			UserID:          memberID,
			Role:            conversation.RoleMember,
			Status:          conversation.ParticipantActive,
			CanSendMessages: true,
			CanUploadFiles:  conv.AllowUploads,
			JoinedAt:        now,
		}
		if err := s.convs.AddParticipant(ctx, &member); err != nil {
			s.log.Warnf("add member %s to %s: %v", memberID, conv.ID, err)
			continue
		}
		conv.ParticipantCount++
	}

	s.reader.StoreConversation(ctx, conv)
	s.bus.Publish(ctx, events.Event{
		Type:            events.EventConversationCreated,
		ConversationRef: conv.Ref(),
		Payload:         events.ConversationPayload{Conversation: conv},
	})
	return conv, nil
}

// Get resolves a conversation by its caller-facing ref.
func (s *ConversationService) Get(ctx context.Context, userID uuid.UUID, conversationRef string) (conversation.Conversation, error) {
	ref, err := conversation.ParseRef(conversationRef)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if ref.IsSpace() {
		conv, err := s.reader.ConversationBySpace(ctx, ref.SpaceID)
		if errors.Is(err, chat_errors.ErrNotFound) {
			return conversation.NewSpaceConversation(uuid.Nil, ref.SpaceID), nil
		}
		return conv, err
	}

	ok, err := s.reader.HasAccess(ctx, ref.ID, userID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !ok {
		return conversation.Conversation{}, chat_errors.ErrForbidden
	}
	return s.reader.Conversation(ctx, ref.ID)
}

// List returns the user's conversations.
func (s *ConversationService) List(ctx context.Context, userID uuid.UUID) ([]conversation.Conversation, error) {
	return s.reader.UserConversations(ctx, userID)
}

// Update applies settings changes. Requires the edit-settings permission.
func (s *ConversationService) Update(ctx context.Context, actorID, conversationID uuid.UUID, req UpdateConversationRequest) (conversation.Conversation, error) {
	actor, err := s.reader.Participant(ctx, conversationID, actorID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if err := Can(actor, ActionEditSettings); err != nil {
		return conversation.Conversation{}, err
	}

	conv, err := s.reader.Conversation(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}

	if req.Name != nil {
		conv.Name.String = *req.Name
		conv.Name.Valid = *req.Name != ""
	}
	if req.Status != nil {
		switch *req.Status {
		case conversation.StatusActive, conversation.StatusArchived, conversation.StatusMuted:
			conv.Status = *req.Status
		default:
			return conversation.Conversation{}, chat_errors.ErrInvalidInput
		}
	}
	if req.AllowUploads != nil {
		conv.AllowUploads = *req.AllowUploads
	}
	if req.AllowReactions != nil {
		conv.AllowReactions = *req.AllowReactions
	}
	if req.RateLimitPerMin != nil {
		if *req.RateLimitPerMin < 0 {
			return conversation.Conversation{}, chat_errors.ErrInvalidInput
		}
		conv.RateLimitPerMin = *req.RateLimitPerMin
	}
	conv.UpdatedAt = s.clock()

	if err := s.convs.Update(ctx, conv); err != nil {
		return conversation.Conversation{}, err
	}
	s.reader.InvalidateConversation(ctx, conv)
	s.reader.StoreConversation(ctx, conv)

	s.bus.Publish(ctx, events.Event{
		Type:            events.EventConversationUpdated,
		ConversationRef: conv.Ref(),
		Payload:         events.ConversationPayload{Conversation: conv},
	})
	return conv, nil
}

// Participants returns the conversation roster.
func (s *ConversationService) Participants(ctx context.Context, userID, conversationID uuid.UUID) ([]conversation.Participant, error) {
	ok, err := s.reader.HasAccess(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chat_errors.ErrForbidden
	}
	return s.reader.Participants(ctx, conversationID)
}

// AddParticipant adds a user to the conversation. A previously departed
// member is rejoined; an already-active one is a conflict.
func (s *ConversationService) AddParticipant(ctx context.Context, actorID, conversationID, userID uuid.UUID, role string) (conversation.Participant, error) {
	actor, err := s.reader.Participant(ctx, conversationID, actorID)
	if err != nil {
		return conversation.Participant{}, err
	}
	if err := Can(actor, ActionAddMember); err != nil {
		return conversation.Participant{}, err
	}
	if role == "" {
		role = conversation.RoleMember
	}
	if role != conversation.RoleMember && !isAdmin(actor.Role) {
		return conversation.Participant{}, chat_errors.ErrForbidden
	}

	existing, err := s.convs.GetParticipant(ctx, conversationID, userID)
	if err == nil {
		if existing.IsActive() {
			return conversation.Participant{}, chat_errors.ErrConflict
		}
		if existing.Status == conversation.ParticipantBanned && !isAdmin(actor.Role) {
			return conversation.Participant{}, chat_errors.ErrForbidden
		}
		rejoined := existing.Rejoined(s.clock())
		if err := s.convs.UpdateParticipant(ctx, rejoined); err != nil {
			return conversation.Participant{}, err
		}
		s.afterMembershipChange(ctx, conversationID, rejoined, events.EventParticipantAdded)
		return rejoined, nil
	}
	if !errors.Is(err, chat_errors.ErrNotFound) {
		return conversation.Participant{}, err
	}

	conv, err := s.reader.Conversation(ctx, conversationID)
	if err != nil {
		return conversation.Participant{}, err
	}
	p := conversation.Participant{
		ConversationID:  conversationID,
		UserID:          userID,
		Role:            role,
		Status:          conversation.ParticipantActive,
		CanSendMessages: true,
		CanUploadFiles:  conv.AllowUploads,
		CanAddMembers:   isAdmin(role),
		CanEditSettings: isAdmin(role),
		JoinedAt:        s.clock(),
	}
	if err := s.convs.AddParticipant(ctx, &p); err != nil {
		return conversation.Participant{}, err
	}
	s.afterMembershipChange(ctx, conversationID, p, events.EventParticipantAdded)
	return p, nil
}

// RemoveParticipant removes a member. Requires moderator authority over the
// target.
func (s *ConversationService) RemoveParticipant(ctx context.Context, actorID, conversationID, userID uuid.UUID) error {
	return s.expel(ctx, actorID, conversationID, userID, ActionRemoveMember, conversation.ParticipantRemoved)
}

// BanParticipant bans a member. Requires admin authority over the target.
func (s *ConversationService) BanParticipant(ctx context.Context, actorID, conversationID, userID uuid.UUID) error {
	return s.expel(ctx, actorID, conversationID, userID, ActionBanMember, conversation.ParticipantBanned)
}

func (s *ConversationService) expel(ctx context.Context, actorID, conversationID, userID uuid.UUID, action Action, status string) error {
	actor, err := s.reader.Participant(ctx, conversationID, actorID)
	if err != nil {
		return err
	}
	target, err := s.convs.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if err := CanModerate(actor, target, action); err != nil {
		return err
	}

	if err := s.convs.SetParticipantStatus(ctx, conversationID, userID, status); err != nil {
		return err
	}
	target.Status = status
	s.afterMembershipChange(ctx, conversationID, target, events.EventParticipantRemoved)
	return nil
}

// Leave marks the caller as departed. Owners must transfer ownership first
// unless they are the only member left.
func (s *ConversationService) Leave(ctx context.Context, userID, conversationID uuid.UUID) error {
	p, err := s.reader.Participant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !p.IsActive() {
		return chat_errors.ErrInvalidStatus
	}
	if p.Role == conversation.RoleOwner {
		roster, err := s.reader.Participants(ctx, conversationID)
		if err != nil {
			return err
		}
		active := 0
		for _, member := range roster {
			if member.IsActive() {
				active++
			}
		}
		if active > 1 {
			return chat_errors.ErrInvalidStatus
		}
	}

	if err := s.convs.SetParticipantStatus(ctx, conversationID, userID, conversation.ParticipantLeft); err != nil {
		return err
	}
	p.Status = conversation.ParticipantLeft
	s.afterMembershipChange(ctx, conversationID, p, events.EventParticipantRemoved)
	return nil
}

func (s *ConversationService) afterMembershipChange(ctx context.Context, conversationID uuid.UUID, p conversation.Participant, eventType string) {
	s.reader.InvalidateMembership(ctx, conversationID, p.UserID)
	s.bus.Publish(ctx, events.Event{
		Type:            eventType,
		ConversationRef: conversationID.String(),
		Payload:         events.ParticipantPayload{Participant: p},
	})
}
