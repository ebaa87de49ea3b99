package chat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"spacechat/internal/cache"
	"spacechat/internal/config"
	"spacechat/internal/domain/conversation"
	"spacechat/internal/domain/message"
	"spacechat/internal/events"
	"spacechat/internal/repository"
	chat_errors "spacechat/pkg/errors"
	"spacechat/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RateLimiter caps send throughput per conversation and user. The limit
// itself is a conversation feature flag.
type RateLimiter interface {
	Allow(ctx context.Context, conversationRef, userID string, limit int) (bool, error)
}

// SpaceACL is the space-membership collaborator. When nil the pipeline
// trusts that the space entry path has already checked access and falls back
// to the relaxed virtual-participant grant.
type SpaceACL interface {
	CanAccess(ctx context.Context, spaceID, userID uuid.UUID) (bool, error)
}

// Notifier receives a fire-and-forget dispatch per offline recipient.
// Delivery is neither guaranteed nor retried here.
type Notifier interface {
	Dispatch(ctx context.Context, userID uuid.UUID, msg message.Message)
}

// Presence reports whether a user holds at least one live gateway
// connection anywhere in the fleet. Used to skip notification dispatch
// for recipients who will see the message in real time.
type Presence interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// SendRequest is the pipeline's input for one message.
type SendRequest struct {
	ConversationRef string
	Type            string
	Content         string
	OptimisticID    string
	ReplyTo         uuid.UUID
	ThreadID        uuid.UUID
	Mentions        []uuid.UUID
	Attachments     []message.Attachment
}

// SendResult is returned to the caller before durable persistence completes.
type SendResult struct {
	Message      message.Message           `json:"message"`
	OptimisticID string                    `json:"optimistic_id"`
	Participants []conversation.Participant `json:"participants"`
	UnreadCounts map[uuid.UUID]int         `json:"unread_counts"`
}

// MessageService orchestrates the optimistic send pipeline and the rest of
// the message operations.
type MessageService struct {
	reader   *cache.Reader
	msgs     repository.MessageRepository
	convs    repository.ConversationRepository
	tx       repository.Transactor
	bus      events.Bus
	limiter  RateLimiter
	acl      SpaceACL
	notify   Notifier
	presence Presence
	cfg      config.ChatConfig
	log      *logger.Logger
	clock    func() time.Time

	background sync.WaitGroup
}

func NewMessageService(
	reader *cache.Reader,
	msgs repository.MessageRepository,
	convs repository.ConversationRepository,
	tx repository.Transactor,
	bus events.Bus,
	limiter RateLimiter,
	acl SpaceACL,
	notify Notifier,
	presence Presence,
	cfg config.ChatConfig,
	log *logger.Logger,
) *MessageService {
	if log == nil {
		log = logger.NewNop()
	}
	return &MessageService{
		reader:   reader,
		msgs:     msgs,
		convs:    convs,
		tx:       tx,
		bus:      bus,
		limiter:  limiter,
		acl:      acl,
		notify:   notify,
		presence: presence,
		cfg:      cfg,
		log:      log,
		clock:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MessageService) SetClock(clock func() time.Time) {
	s.clock = clock
}

// Drain blocks until all detached background tasks finish. Called on
// shutdown so in-flight persistence is not cut off, and by tests.
func (s *MessageService) Drain() {
	s.background.Wait()
}

// SendMessage runs the optimistic send pipeline. The returned message is
// pending: the durable row is written by a detached task whose outcome
// arrives as a message.confirmed or message.failed event. Errors from that
// task never surface here.
func (s *MessageService) SendMessage(ctx context.Context, senderID uuid.UUID, req SendRequest) (*SendResult, error) {
	ref, err := conversation.ParseRef(req.ConversationRef)
	if err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = message.TypeText
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return nil, chat_errors.ErrInvalidInput
	}
	if s.cfg.MaxMessageLen > 0 && len(req.Content) > s.cfg.MaxMessageLen {
		return nil, chat_errors.ErrInvalidInput
	}

	// Fast path: sender, conversation and membership fetched concurrently
	// through the cache.
	var (
		conv        conversation.Conversation
		participant conversation.Participant
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.reader.User(gctx, senderID)
		return err
	})
	g.Go(func() error {
		var err error
		conv, err = s.loadConversation(gctx, ref)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	participant, err = s.loadParticipant(ctx, conv, ref, senderID)
	if err != nil {
		return nil, err
	}

	// Permission validation happens before any object is constructed.
	if err := Can(participant, ActionSendMessage); err != nil {
		return nil, err
	}
	if message.RequiresUpload(req.Type) || len(req.Attachments) > 0 {
		if !conv.AllowUploads {
			return nil, chat_errors.ErrForbidden
		}
		if err := Can(participant, ActionUploadFile); err != nil {
			return nil, err
		}
	}
	if err := s.checkRateLimit(ctx, ref, senderID, conv); err != nil {
		return nil, err
	}

	optimistic, optimisticID := s.buildOptimistic(senderID, conv, ref, req)

	// Response composition: roster plus per-recipient unread projections.
	// Only cache projections are touched here; the durable counters belong
	// to the background transaction.
	participants, unreadCounts := s.composeRoster(ctx, conv, participant, senderID)

	result := &SendResult{
		Message:      optimistic,
		OptimisticID: optimisticID,
		Participants: participants,
		UnreadCounts: unreadCounts,
	}

	s.bus.Publish(ctx, events.Event{
		Type:            events.EventMessageSent,
		ConversationRef: ref.String(),
		Payload: events.MessagePayload{
			Message:      optimistic,
			OptimisticID: optimisticID,
			IsOptimistic: true,
		},
	})
	s.bus.Publish(ctx, events.Event{
		Type:            events.EventTypingStopped,
		ConversationRef: ref.String(),
		ExcludeUserID:   senderID.String(),
		Payload:         events.TypingPayload{UserID: senderID, IsTyping: false},
	})

	s.spawnPersist(conv, ref, optimistic, optimisticID, senderID)

	return result, nil
}

func (s *MessageService) loadConversation(ctx context.Context, ref conversation.Ref) (conversation.Conversation, error) {
	if ref.IsSpace() {
		conv, err := s.reader.ConversationBySpace(ctx, ref.SpaceID)
		if errors.Is(err, chat_errors.ErrNotFound) {
			// First message into this space's chat: synthesize a stand-in;
			// the backing row is created by the background transaction.
			return conversation.NewSpaceConversation(uuid.Nil, ref.SpaceID), nil
		}
		return conv, err
	}
	return s.reader.Conversation(ctx, ref.ID)
}

func (s *MessageService) loadParticipant(ctx context.Context, conv conversation.Conversation, ref conversation.Ref, userID uuid.UUID) (conversation.Participant, error) {
	if !ref.IsSpace() {
		return s.reader.Participant(ctx, conv.ID, userID)
	}

	if s.acl != nil {
		ok, err := s.acl.CanAccess(ctx, ref.SpaceID, userID)
		if err != nil {
			return conversation.Participant{}, err
		}
		if !ok {
			return conversation.Participant{}, chat_errors.ErrForbidden
		}
	}
	if !conv.Synthetic {
		p, err := s.reader.Participant(ctx, conv.ID, userID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, chat_errors.ErrNotFound) {
			return conversation.Participant{}, err
		}
	}
	// Any space member gets the relaxed virtual grant: full send/upload
	// rights, no moderation rights.
	return conversation.NewSpaceParticipant(conv.ID, userID), nil
}

func (s *MessageService) checkRateLimit(ctx context.Context, ref conversation.Ref, senderID uuid.UUID, conv conversation.Conversation) error {
	limit := conv.RateLimitPerMin
	if limit <= 0 {
		limit = s.cfg.SendRateLimit
	}
	if s.limiter == nil || limit <= 0 {
		return nil
	}
	allowed, err := s.limiter.Allow(ctx, ref.String(), senderID.String(), limit)
	if err != nil {
		// Limiter trouble must not block sending.
		s.log.Warnf("rate limiter unavailable for %s: %v", ref, err)
		return nil
	}
	if !allowed {
		return chat_errors.ErrRateLimited
	}
	return nil
}

func (s *MessageService) buildOptimistic(senderID uuid.UUID, conv conversation.Conversation, ref conversation.Ref, req SendRequest) (message.Message, string) {
	optimisticID := req.OptimisticID
	if optimisticID == "" {
		optimisticID = uuid.NewString()
	}
	id, err := uuid.Parse(optimisticID)
	if err != nil {
		id = uuid.New()
	}

	entities := ExtractEntities(req.Content)
	meta := message.Metadata{
		Mentions:    req.Mentions,
		Hashtags:    entities.Hashtags,
		Links:       entities.Links,
		Attachments: req.Attachments,
	}

	now := s.clock()
	m := message.Message{
		ID:              id,
		ConversationID:  conv.ID,
		ConversationRef: ref.String(),
		SenderID:        senderID,
		ClientMessageID: sql.NullString{String: optimisticID, Valid: true},
		Type:            req.Type,
		Content:         sql.NullString{String: req.Content, Valid: req.Content != ""},
		Status:          message.StatusPending,
		ClientTimestamp: now,
		Metadata:        meta.Encode(),
		CreatedAt:       now,
	}
	if req.ReplyTo != uuid.Nil {
		m.ParentID = uuid.NullUUID{UUID: req.ReplyTo, Valid: true}
	}
	if req.ThreadID != uuid.Nil {
		m.ThreadID = uuid.NullUUID{UUID: req.ThreadID, Valid: true}
	}
	return m, optimisticID
}

func (s *MessageService) composeRoster(ctx context.Context, conv conversation.Conversation, sender conversation.Participant, senderID uuid.UUID) ([]conversation.Participant, map[uuid.UUID]int) {
	unreadCounts := make(map[uuid.UUID]int)

	if conv.Synthetic {
		return []conversation.Participant{sender}, unreadCounts
	}

	roster, err := s.reader.Participants(ctx, conv.ID)
	if err != nil {
		// Roster trouble degrades the response, not the send.
		s.log.Warnf("roster fetch for %s: %v", conv.ID, err)
		return []conversation.Participant{sender}, unreadCounts
	}

	updated := make([]conversation.Participant, len(roster))
	for i, p := range roster {
		if p.UserID != senderID && p.IsActive() {
			p = p.WithUnreadIncrement()
			unreadCounts[p.UserID] = p.UnreadCount
			s.reader.StoreParticipant(ctx, p)
		}
		updated[i] = p
	}
	s.reader.StoreParticipants(ctx, conv.ID, updated)
	return updated, unreadCounts
}

// spawnPersist launches the detached persistence task. Its failure never
// reaches the SendMessage caller; it is reported as a message.failed event
// targeted at the sender only.
func (s *MessageService) spawnPersist(conv conversation.Conversation, ref conversation.Ref, optimistic message.Message, optimisticID string, senderID uuid.UUID) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Errorf("persist panic for %s: %v", optimisticID, r)
			}
		}()

		// Detached from the request context; bounded so a hung transaction
		// cannot strand the message in pending forever.
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		defer cancel()

		durable, err := s.persist(ctx, conv, ref, optimistic, optimisticID, senderID)
		if err != nil {
			s.log.Errorf("persist %s: %v", optimisticID, err)
			s.bus.Publish(ctx, events.Event{
				Type:         events.EventMessageFailed,
				TargetUserID: senderID.String(),
				Payload: events.MessageFailedPayload{
					OptimisticID:    optimisticID,
					ConversationRef: ref.String(),
					Error:           err.Error(),
				},
			})
			return
		}

		s.bus.Publish(ctx, events.Event{
			Type:            events.EventMessageConfirmed,
			ConversationRef: ref.String(),
			Payload: events.MessagePayload{
				Message:      durable,
				OptimisticID: optimisticID,
			},
		})

		s.trackDelivery(ctx, durable, senderID)
		s.notifyMentions(ctx, durable)
	}()
}

func (s *MessageService) persist(ctx context.Context, conv conversation.Conversation, ref conversation.Ref, optimistic message.Message, optimisticID string, senderID uuid.UUID) (message.Message, error) {
	durable := optimistic
	durable.ID = uuid.New()
	durable.Status = message.StatusSent
	durable.ConversationRef = ""

	err := s.tx.Transact(ctx, func(convs repository.ConversationRepository, msgs repository.MessageRepository) error {
		convID := conv.ID

		if conv.Synthetic {
			// First message into a space chat: materialize the backing
			// conversation and the sender's membership.
			backing, err := s.materializeSpace(ctx, convs, ref, senderID)
			if err != nil {
				return err
			}
			convID = backing.ID
		}

		now := s.clock()
		durable.ConversationID = convID
		durable.ServerTimestamp = sql.NullTime{Time: now, Valid: true}
		durable.CreatedAt = now

		if err := msgs.Create(ctx, &durable); err != nil {
			return err
		}

		preview := truncatePreview(durable.Content.String, 120)
		if err := convs.RecordActivity(ctx, convID, durable.ID, preview, now); err != nil {
			return err
		}
		return convs.IncrementUnread(ctx, convID, senderID)
	})
	if err != nil {
		return message.Message{}, err
	}

	// Cache updates strictly post-commit so uncommitted state is never
	// cached.
	s.reader.StoreMessage(ctx, durable)
	s.reader.InvalidateMessagePages(ctx, durable.ConversationID)
	if conv.Synthetic {
		s.reader.InvalidateConversation(ctx, conversation.Conversation{
			ID:      durable.ConversationID,
			SpaceID: conv.SpaceID,
		})
	} else {
		s.reader.InvalidateConversation(ctx, conv)
	}

	return durable, nil
}

func (s *MessageService) materializeSpace(ctx context.Context, convs repository.ConversationRepository, ref conversation.Ref, senderID uuid.UUID) (conversation.Conversation, error) {
	// Another sender may have materialized the row concurrently.
	existing, err := convs.GetBySpaceID(ctx, ref.SpaceID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, chat_errors.ErrNotFound) {
		return conversation.Conversation{}, err
	}

	now := s.clock()
	backing := conversation.Conversation{
		ID:             uuid.New(),
		Type:           conversation.TypeSpace,
		Status:         conversation.StatusActive,
		SpaceID:        uuid.NullUUID{UUID: ref.SpaceID, Valid: true},
		CreatedBy:      uuid.NullUUID{UUID: senderID, Valid: true},
		AllowUploads:   true,
		AllowReactions: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := convs.Create(ctx, &backing); err != nil {
		if errors.Is(err, chat_errors.ErrConflict) {
			return convs.GetBySpaceID(ctx, ref.SpaceID)
		}
		return conversation.Conversation{}, err
	}

	member := conversation.NewSpaceParticipant(backing.ID, senderID)
	member.Synthetic = false
	if err := convs.AddParticipant(ctx, &member); err != nil && !errors.Is(err, chat_errors.ErrConflict) {
		return conversation.Conversation{}, err
	}
	backing.ParticipantCount = 1
	return backing, nil
}

// trackDelivery creates one delivery record per recipient and emits the
// notification-dispatch and delivery events. Best effort: failures are
// logged, never escalated.
func (s *MessageService) trackDelivery(ctx context.Context, durable message.Message, senderID uuid.UUID) {
	roster, err := s.reader.Participants(ctx, durable.ConversationID)
	if err != nil {
		s.log.Warnf("delivery roster for %s: %v", durable.ConversationID, err)
		return
	}
	for _, p := range roster {
		if p.UserID == senderID || !p.IsActive() {
			continue
		}
		d := message.Delivery{
			MessageID: durable.ID,
			UserID:    p.UserID,
			Status:    message.StatusSent,
			UpdatedAt: s.clock(),
		}
		if err := s.msgs.CreateDelivery(ctx, &d); err != nil {
			s.log.Warnf("delivery record %s/%s: %v", durable.ID, p.UserID, err)
			continue
		}
		if s.notify != nil && !s.isOnline(ctx, p.UserID) {
			s.notify.Dispatch(ctx, p.UserID, durable)
		}
		s.bus.Publish(ctx, events.Event{
			Type:            events.EventDeliveryCreated,
			ConversationRef: s.refFor(ctx, durable.ConversationID),
			Payload: events.DeliveryPayload{
				MessageID: durable.ID,
				UserID:    p.UserID,
				Status:    message.StatusSent,
			},
		})
	}
}

// isOnline answers false on any presence trouble so notifications err on
// the side of being sent.
func (s *MessageService) isOnline(ctx context.Context, userID uuid.UUID) bool {
	if s.presence == nil {
		return false
	}
	online, err := s.presence.IsOnline(ctx, userID.String())
	if err != nil {
		s.log.Warnf("presence lookup %s: %v", userID, err)
		return false
	}
	return online
}

func (s *MessageService) notifyMentions(ctx context.Context, durable message.Message) {
	meta, err := message.DecodeMetadata(durable.Metadata)
	if err != nil {
		return
	}
	for _, userID := range meta.Mentions {
		s.bus.Publish(ctx, events.Event{
			Type:         events.EventMessageMention,
			TargetUserID: userID.String(),
			Payload: events.MentionPayload{
				MessageID: durable.ID,
				SenderID:  durable.SenderID,
			},
		})
	}
}

// MarkRead advances the reader's last-read pointer. The cached projection
// moves immediately; the durable update is fire-and-forget.
func (s *MessageService) MarkRead(ctx context.Context, userID uuid.UUID, conversationRef string, messageID uuid.UUID) error {
	ref, err := conversation.ParseRef(conversationRef)
	if err != nil {
		return err
	}
	conv, err := s.loadConversation(ctx, ref)
	if err != nil {
		return err
	}
	participant, err := s.loadParticipant(ctx, conv, ref, userID)
	if err != nil {
		return err
	}

	now := s.clock()
	updated := participant.WithReadPointer(messageID, now)
	s.reader.StoreParticipant(ctx, updated)

	if !participant.Synthetic {
		convID := conv.ID
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			bctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
			defer cancel()
			if err := s.convs.ResetUnread(bctx, convID, userID, messageID, now); err != nil {
				s.log.Warnf("reset unread %s/%s: %v", convID, userID, err)
			}
			// Optimistic messages have no delivery row yet; tolerate that.
			err := s.msgs.UpdateDelivery(bctx, message.Delivery{
				MessageID:   messageID,
				UserID:      userID,
				Status:      message.StatusRead,
				DeliveredAt: sql.NullTime{Time: now, Valid: true},
				ReadAt:      sql.NullTime{Time: now, Valid: true},
				UpdatedAt:   now,
			})
			if err != nil && !errors.Is(err, chat_errors.ErrNotFound) {
				s.log.Warnf("advance delivery %s/%s: %v", messageID, userID, err)
			}
		}()
	}

	s.bus.Publish(ctx, events.Event{
		Type:            events.EventMessageRead,
		ConversationRef: ref.String(),
		ExcludeUserID:   userID.String(),
		Payload: events.ReadPayload{
			UserID:    userID,
			MessageID: messageID,
			ReadAt:    now,
		},
	})
	return nil
}

// EditMessage replaces content, recording the prior revision. Only the
// original sender may edit, and only within the configured window.
func (s *MessageService) EditMessage(ctx context.Context, userID, messageID uuid.UUID, newContent string) (message.Message, error) {
	if strings.TrimSpace(newContent) == "" {
		return message.Message{}, chat_errors.ErrInvalidInput
	}

	m, err := s.reader.Message(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if m.SenderID != userID {
		return message.Message{}, chat_errors.ErrForbidden
	}
	if m.Status == message.StatusDeleted {
		return message.Message{}, chat_errors.ErrNotFound
	}
	if s.clock().Sub(m.CreatedAt) > s.cfg.MessageEditWindow {
		return message.Message{}, chat_errors.ErrEditWindow
	}

	meta, err := message.DecodeMetadata(m.Metadata)
	if err != nil {
		return message.Message{}, err
	}
	now := s.clock()
	meta.EditHistory = append(meta.EditHistory, message.EditEntry{
		Content:  m.Content.String,
		EditedAt: now,
	})
	entities := ExtractEntities(newContent)
	meta.Hashtags = entities.Hashtags
	meta.Links = entities.Links

	m.Content = sql.NullString{String: newContent, Valid: true}
	m.Metadata = meta.Encode()
	m.EditedAt = sql.NullTime{Time: now, Valid: true}

	if err := s.msgs.Update(ctx, m); err != nil {
		return message.Message{}, err
	}
	s.reader.StoreMessage(ctx, m)
	s.reader.InvalidateMessagePages(ctx, m.ConversationID)

	s.bus.Publish(ctx, events.Event{
		Type:            events.EventMessageEdited,
		ConversationRef: s.refFor(ctx, m.ConversationID),
		Payload:         events.MessagePayload{Message: m},
	})
	return m, nil
}

// DeleteMessage soft-deletes: status flips to deleted and the content is
// replaced with a tombstone. The id stays resolvable.
func (s *MessageService) DeleteMessage(ctx context.Context, userID, messageID uuid.UUID) error {
	m, err := s.reader.Message(ctx, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != userID {
		return chat_errors.ErrForbidden
	}
	if m.Status == message.StatusDeleted {
		return nil
	}

	now := s.clock()
	m.Status = message.StatusDeleted
	m.Content = sql.NullString{String: message.TombstoneContent, Valid: true}
	m.DeletedAt = sql.NullTime{Time: now, Valid: true}

	if err := s.msgs.Update(ctx, m); err != nil {
		return err
	}
	s.reader.InvalidateMessage(ctx, m.ConversationID, m.ID)

	s.bus.Publish(ctx, events.Event{
		Type:            events.EventMessageDeleted,
		ConversationRef: s.refFor(ctx, m.ConversationID),
		Payload:         events.MessagePayload{Message: m},
	})
	return nil
}

// ForwardMessage fans a message out to multiple targets, best effort:
// per-target failures are logged and skipped.
func (s *MessageService) ForwardMessage(ctx context.Context, userID, messageID uuid.UUID, targetRefs []string) []SendResult {
	original, err := s.reader.Message(ctx, messageID)
	if err != nil {
		s.log.Warnf("forward source %s: %v", messageID, err)
		return nil
	}

	var results []SendResult
	for _, target := range targetRefs {
		res, err := s.SendMessage(ctx, userID, SendRequest{
			ConversationRef: target,
			Type:            message.TypeForward,
			Content:         original.Content.String,
		})
		if err != nil {
			s.log.Warnf("forward %s to %s: %v", messageID, target, err)
			continue
		}

		// Stamp provenance onto the optimistic copy's metadata.
		meta, _ := message.DecodeMetadata(res.Message.Metadata)
		meta.ForwardedFrom = &message.Provenance{
			MessageID:      original.ID,
			ConversationID: original.ConversationID,
			SenderID:       original.SenderID,
		}
		res.Message.Metadata = meta.Encode()
		results = append(results, *res)
	}
	return results
}

// AddReaction creates or merges a (message, user, emoji) reaction. The
// caller must be an active participant who may still send.
func (s *MessageService) AddReaction(ctx context.Context, userID, messageID uuid.UUID, emoji, metadata string) (message.Reaction, error) {
	if emoji == "" {
		return message.Reaction{}, chat_errors.ErrInvalidInput
	}
	m, err := s.reader.Message(ctx, messageID)
	if err != nil {
		return message.Reaction{}, err
	}
	conv, err := s.reader.Conversation(ctx, m.ConversationID)
	if err != nil {
		return message.Reaction{}, err
	}
	if !conv.AllowReactions {
		return message.Reaction{}, chat_errors.ErrForbidden
	}
	participant, err := s.memberOf(ctx, conv, userID)
	if err != nil {
		return message.Reaction{}, err
	}
	if err := Can(participant, ActionReact); err != nil {
		return message.Reaction{}, err
	}

	existing, err := s.msgs.GetReaction(ctx, messageID, userID, emoji)
	if err == nil {
		// Duplicate add merges metadata instead of erroring.
		if metadata != "" {
			existing.Metadata = mergeReactionMetadata(existing.Metadata, metadata)
			if err := s.msgs.UpdateReaction(ctx, existing); err != nil {
				return message.Reaction{}, err
			}
		}
		s.publishReaction(ctx, events.EventReactionAdded, m, userID, emoji)
		return existing, nil
	}
	if !errors.Is(err, chat_errors.ErrNotFound) {
		return message.Reaction{}, err
	}

	reaction := message.Reaction{
		ID:        uuid.New(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		Metadata:  metadata,
		CreatedAt: s.clock(),
	}
	if err := s.msgs.AddReaction(ctx, &reaction); err != nil {
		if errors.Is(err, chat_errors.ErrConflict) {
			return s.msgs.GetReaction(ctx, messageID, userID, emoji)
		}
		return message.Reaction{}, err
	}

	s.publishReaction(ctx, events.EventReactionAdded, m, userID, emoji)
	return reaction, nil
}

// RemoveReaction deletes a (message, user, emoji) reaction.
func (s *MessageService) RemoveReaction(ctx context.Context, userID, messageID uuid.UUID, emoji string) error {
	m, err := s.reader.Message(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := s.reader.Conversation(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	participant, err := s.memberOf(ctx, conv, userID)
	if err != nil {
		return err
	}
	if err := Can(participant, ActionReact); err != nil {
		return err
	}
	if err := s.msgs.RemoveReaction(ctx, messageID, userID, emoji); err != nil {
		return err
	}
	s.publishReaction(ctx, events.EventReactionRemoved, m, userID, emoji)
	return nil
}

// Reactions lists a message's reactions. Read access to the conversation
// is required.
func (s *MessageService) Reactions(ctx context.Context, userID, messageID uuid.UUID) ([]message.Reaction, error) {
	m, err := s.reader.Message(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireRead(ctx, m.ConversationID, userID); err != nil {
		return nil, err
	}
	return s.msgs.GetReactions(ctx, m.ID)
}

// memberOf resolves the caller's membership in a durable conversation,
// honoring the relaxed grant for space-backed rows.
func (s *MessageService) memberOf(ctx context.Context, conv conversation.Conversation, userID uuid.UUID) (conversation.Participant, error) {
	ref := conversation.RealRef(conv.ID)
	if conv.SpaceID.Valid {
		ref = conversation.SpaceRef(conv.SpaceID.UUID)
	}
	return s.loadParticipant(ctx, conv, ref, userID)
}

// requireRead gates read-side access to a conversation's messages.
func (s *MessageService) requireRead(ctx context.Context, convID, userID uuid.UUID) error {
	conv, err := s.reader.Conversation(ctx, convID)
	if err != nil {
		return err
	}
	if conv.SpaceID.Valid {
		if s.acl == nil {
			return nil
		}
		ok, err := s.acl.CanAccess(ctx, conv.SpaceID.UUID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return chat_errors.ErrForbidden
		}
		return nil
	}
	ok, err := s.reader.HasAccess(ctx, conv.ID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return chat_errors.ErrForbidden
	}
	return nil
}

// refFor resolves the caller-facing ref for event routing. Falls back to
// the raw id if the conversation cannot be read.
func (s *MessageService) refFor(ctx context.Context, convID uuid.UUID) string {
	conv, err := s.reader.Conversation(ctx, convID)
	if err != nil {
		return convID.String()
	}
	return conv.Ref()
}

func (s *MessageService) publishReaction(ctx context.Context, eventType string, m message.Message, userID uuid.UUID, emoji string) {
	s.bus.Publish(ctx, events.Event{
		Type:            eventType,
		ConversationRef: s.refFor(ctx, m.ConversationID),
		Payload: events.ReactionPayload{
			MessageID: m.ID,
			UserID:    userID,
			Emoji:     emoji,
		},
	})
}

// GetMessages pages through a conversation; deleted messages are excluded,
// order is chronological, hasMore comes from the limit+1 probe.
func (s *MessageService) GetMessages(ctx context.Context, userID uuid.UUID, conversationRef string, page repository.Page) ([]message.Message, bool, error) {
	ref, err := conversation.ParseRef(conversationRef)
	if err != nil {
		return nil, false, err
	}
	conv, err := s.loadConversation(ctx, ref)
	if err != nil {
		return nil, false, err
	}
	if conv.Synthetic {
		return nil, false, nil
	}
	if !ref.IsSpace() {
		ok, err := s.reader.HasAccess(ctx, conv.ID, userID)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, chat_errors.ErrForbidden
		}
	}
	return s.reader.MessagePage(ctx, conv.ID, page)
}

// GetMessage resolves one message id, deleted ones included (tombstoned).
// Only readers of the owning conversation may resolve it.
func (s *MessageService) GetMessage(ctx context.Context, userID, messageID uuid.UUID) (message.Message, error) {
	m, err := s.reader.Message(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if err := s.requireRead(ctx, m.ConversationID, userID); err != nil {
		return message.Message{}, err
	}
	return m, nil
}

// ResolveOptimistic maps a client message id to its durable row, for
// clients reconciling after a missed confirmation.
func (s *MessageService) ResolveOptimistic(ctx context.Context, userID uuid.UUID, optimisticID string) (message.Message, error) {
	if optimisticID == "" {
		return message.Message{}, chat_errors.ErrInvalidInput
	}
	m, err := s.msgs.GetByClientMessageID(ctx, optimisticID)
	if err != nil {
		return message.Message{}, err
	}
	if m.SenderID != userID {
		if err := s.requireRead(ctx, m.ConversationID, userID); err != nil {
			return message.Message{}, err
		}
	}
	return m, nil
}

// SearchMessages runs a substring search over the user's conversations.
func (s *MessageService) SearchMessages(ctx context.Context, userID uuid.UUID, query string, limit int) ([]message.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, chat_errors.ErrInvalidInput
	}
	return s.reader.SearchMessages(ctx, userID, query, limit)
}

// truncatePreview cuts on a rune boundary so a multi-byte character is
// never split.
func truncatePreview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func mergeReactionMetadata(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if incoming == "" {
		return existing
	}
	merged := make(map[string]interface{})
	if err := json.Unmarshal([]byte(existing), &merged); err != nil {
		return incoming
	}
	add := make(map[string]interface{})
	if err := json.Unmarshal([]byte(incoming), &add); err != nil {
		return existing
	}
	for k, v := range add {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return existing
	}
	return string(out)
}
