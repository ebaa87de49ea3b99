package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"spacechat/internal/domain/conversation"
	"spacechat/internal/domain/message"
	"spacechat/internal/domain/user"
	"spacechat/internal/events"
	"spacechat/internal/repository"
	chat_errors "spacechat/pkg/errors"

	"github.com/google/uuid"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]user.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[uuid.UUID]user.User)}
}

func (f *fakeUserRepo) add(u user.User) {
	f.mu.Lock()
	f.users[u.ID] = u
	f.mu.Unlock()
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return user.User{}, chat_errors.ErrNotFound
	}
	return u, nil
}

type participantKey struct {
	convID uuid.UUID
	userID uuid.UUID
}

type fakeConvRepo struct {
	mu           sync.Mutex
	convs        map[uuid.UUID]conversation.Conversation
	participants map[participantKey]conversation.Participant

	activityCalls []uuid.UUID
	unreadCalls   []uuid.UUID
	resetCalls    []participantKey
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		convs:        make(map[uuid.UUID]conversation.Conversation),
		participants: make(map[participantKey]conversation.Participant),
	}
}

func (f *fakeConvRepo) seed(c conversation.Conversation, members ...conversation.Participant) {
	f.mu.Lock()
	f.convs[c.ID] = c
	for _, p := range members {
		f.participants[participantKey{p.ConversationID, p.UserID}] = p
	}
	f.mu.Unlock()
}

func (f *fakeConvRepo) Create(_ context.Context, c *conversation.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.SpaceID.Valid {
		for _, existing := range f.convs {
			if existing.SpaceID.Valid && existing.SpaceID.UUID == c.SpaceID.UUID {
				return chat_errors.ErrConflict
			}
		}
	}
	f.convs[c.ID] = *c
	return nil
}

func (f *fakeConvRepo) GetByID(_ context.Context, id uuid.UUID) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[id]
	if !ok {
		return conversation.Conversation{}, chat_errors.ErrNotFound
	}
	return c, nil
}

func (f *fakeConvRepo) GetBySpaceID(_ context.Context, spaceID uuid.UUID) (conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.convs {
		if c.SpaceID.Valid && c.SpaceID.UUID == spaceID {
			return c, nil
		}
	}
	return conversation.Conversation{}, chat_errors.ErrNotFound
}

func (f *fakeConvRepo) Update(_ context.Context, c conversation.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.convs[c.ID]; !ok {
		return chat_errors.ErrNotFound
	}
	f.convs[c.ID] = c
	return nil
}

func (f *fakeConvRepo) GetUserConversations(_ context.Context, userID uuid.UUID) ([]conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conversation.Conversation
	for key, p := range f.participants {
		if key.userID == userID && p.IsActive() {
			if c, ok := f.convs[key.convID]; ok {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (f *fakeConvRepo) HasAccess(_ context.Context, convID, userID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantKey{convID, userID}]
	return ok && p.IsActive(), nil
}

func (f *fakeConvRepo) GetParticipant(_ context.Context, convID, userID uuid.UUID) (conversation.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[participantKey{convID, userID}]
	if !ok {
		return conversation.Participant{}, chat_errors.ErrNotFound
	}
	return p, nil
}

func (f *fakeConvRepo) GetParticipants(_ context.Context, convID uuid.UUID) ([]conversation.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []conversation.Participant
	for key, p := range f.participants {
		if key.convID == convID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeConvRepo) AddParticipant(_ context.Context, p *conversation.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := participantKey{p.ConversationID, p.UserID}
	if _, ok := f.participants[key]; ok {
		return chat_errors.ErrConflict
	}
	f.participants[key] = *p
	return nil
}

func (f *fakeConvRepo) UpdateParticipant(_ context.Context, p conversation.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := participantKey{p.ConversationID, p.UserID}
	if _, ok := f.participants[key]; !ok {
		return chat_errors.ErrNotFound
	}
	f.participants[key] = p
	return nil
}

func (f *fakeConvRepo) SetParticipantStatus(_ context.Context, convID, userID uuid.UUID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := participantKey{convID, userID}
	p, ok := f.participants[key]
	if !ok {
		return chat_errors.ErrNotFound
	}
	p.Status = status
	f.participants[key] = p
	return nil
}

func (f *fakeConvRepo) RecordActivity(_ context.Context, convID, lastMessageID uuid.UUID, preview string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[convID]
	if !ok {
		return chat_errors.ErrNotFound
	}
	c.MessageCount++
	c.LastMessageID = uuid.NullUUID{UUID: lastMessageID, Valid: true}
	c.LastMessagePreview.String = preview
	c.LastMessagePreview.Valid = true
	c.LastMessageAt.Time = at
	c.LastMessageAt.Valid = true
	f.convs[convID] = c
	f.activityCalls = append(f.activityCalls, convID)
	return nil
}

func (f *fakeConvRepo) IncrementUnread(_ context.Context, convID, senderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, p := range f.participants {
		if key.convID == convID && key.userID != senderID && p.IsActive() {
			p.UnreadCount++
			f.participants[key] = p
		}
	}
	f.unreadCalls = append(f.unreadCalls, convID)
	return nil
}

func (f *fakeConvRepo) ResetUnread(_ context.Context, convID, userID, lastReadMessageID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := participantKey{convID, userID}
	p, ok := f.participants[key]
	if !ok {
		return chat_errors.ErrNotFound
	}
	f.participants[key] = p.WithReadPointer(lastReadMessageID, at)
	f.resetCalls = append(f.resetCalls, key)
	return nil
}

type reactionKey struct {
	messageID uuid.UUID
	userID    uuid.UUID
	emoji     string
}

type fakeMsgRepo struct {
	mu         sync.Mutex
	messages   map[uuid.UUID]message.Message
	byClientID map[string]uuid.UUID
	reactions  map[reactionKey]message.Reaction
	deliveries []message.Delivery

	createErr error
}

func newFakeMsgRepo() *fakeMsgRepo {
	return &fakeMsgRepo{
		messages:   make(map[uuid.UUID]message.Message),
		byClientID: make(map[string]uuid.UUID),
		reactions:  make(map[reactionKey]message.Reaction),
	}
}

func (f *fakeMsgRepo) Create(_ context.Context, m *message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.messages[m.ID] = *m
	if m.ClientMessageID.Valid {
		f.byClientID[m.ClientMessageID.String] = m.ID
	}
	return nil
}

func (f *fakeMsgRepo) GetByID(_ context.Context, id uuid.UUID) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return message.Message{}, chat_errors.ErrNotFound
	}
	return m, nil
}

func (f *fakeMsgRepo) GetByClientMessageID(_ context.Context, clientMessageID string) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byClientID[clientMessageID]
	if !ok {
		return message.Message{}, chat_errors.ErrNotFound
	}
	return f.messages[id], nil
}

func (f *fakeMsgRepo) Update(_ context.Context, m message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[m.ID]; !ok {
		return chat_errors.ErrNotFound
	}
	f.messages[m.ID] = m
	return nil
}

func (f *fakeMsgRepo) List(_ context.Context, convID uuid.UUID, page repository.Page) ([]message.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message.Message
	for _, m := range f.messages {
		if m.ConversationID == convID && m.Status != message.StatusDeleted {
			out = append(out, m)
		}
	}
	hasMore := page.Limit > 0 && len(out) > page.Limit
	if hasMore {
		out = out[:page.Limit]
	}
	return out, hasMore, nil
}

func (f *fakeMsgRepo) Search(_ context.Context, _ uuid.UUID, query string, limit int) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message.Message
	for _, m := range f.messages {
		if m.Status != message.StatusDeleted && m.Content.Valid && strings.Contains(strings.ToLower(m.Content.String), strings.ToLower(query)) {
			out = append(out, m)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeMsgRepo) AddReaction(_ context.Context, r *message.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := reactionKey{r.MessageID, r.UserID, r.Emoji}
	if _, ok := f.reactions[key]; ok {
		return chat_errors.ErrConflict
	}
	f.reactions[key] = *r
	return nil
}

func (f *fakeMsgRepo) GetReaction(_ context.Context, messageID, userID uuid.UUID, emoji string) (message.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reactions[reactionKey{messageID, userID, emoji}]
	if !ok {
		return message.Reaction{}, chat_errors.ErrNotFound
	}
	return r, nil
}

func (f *fakeMsgRepo) UpdateReaction(_ context.Context, r message.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := reactionKey{r.MessageID, r.UserID, r.Emoji}
	if _, ok := f.reactions[key]; !ok {
		return chat_errors.ErrNotFound
	}
	f.reactions[key] = r
	return nil
}

func (f *fakeMsgRepo) RemoveReaction(_ context.Context, messageID, userID uuid.UUID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := reactionKey{messageID, userID, emoji}
	if _, ok := f.reactions[key]; !ok {
		return chat_errors.ErrNotFound
	}
	delete(f.reactions, key)
	return nil
}

func (f *fakeMsgRepo) GetReactions(_ context.Context, messageID uuid.UUID) ([]message.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message.Reaction
	for key, r := range f.reactions {
		if key.messageID == messageID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeMsgRepo) CreateDelivery(_ context.Context, d *message.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries = append(f.deliveries, *d)
	return nil
}

func (f *fakeMsgRepo) UpdateDelivery(_ context.Context, d message.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.deliveries {
		if existing.MessageID == d.MessageID && existing.UserID == d.UserID {
			f.deliveries[i] = d
			return nil
		}
	}
	return chat_errors.ErrNotFound
}

func (f *fakeMsgRepo) deliveryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

func (f *fakeMsgRepo) delivery(messageID, userID uuid.UUID) (message.Delivery, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deliveries {
		if d.MessageID == messageID && d.UserID == userID {
			return d, true
		}
	}
	return message.Delivery{}, false
}

type fakeTransactor struct {
	convs repository.ConversationRepository
	msgs  repository.MessageRepository
	err   error
}

func (f *fakeTransactor) Transact(ctx context.Context, fn func(convs repository.ConversationRepository, msgs repository.MessageRepository) error) error {
	if f.err != nil {
		return f.err
	}
	return fn(f.convs, f.msgs)
}

// captureBus records every published event for inspection.
type captureBus struct {
	mu       sync.Mutex
	events   []events.Event
	handlers []events.Handler
}

func newCaptureBus() *captureBus {
	return &captureBus{}
}

func (b *captureBus) Publish(ctx context.Context, event events.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	handlers := b.handlers
	b.mu.Unlock()
	for _, h := range handlers {
		h(ctx, event)
	}
}

func (b *captureBus) Subscribe(handler events.Handler, _ ...string) {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
}

func (b *captureBus) all() []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Event, len(b.events))
	copy(out, b.events)
	return out
}

func (b *captureBus) ofType(eventType string) []events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []events.Event
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]bool)}
}

func (f *fakePresence) setOnline(userID uuid.UUID, online bool) {
	f.mu.Lock()
	f.online[userID.String()] = online
	f.mu.Unlock()
}

func (f *fakePresence) IsOnline(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID], nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	dispatched []uuid.UUID
}

func (f *fakeNotifier) Dispatch(_ context.Context, userID uuid.UUID, _ message.Message) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, userID)
	f.mu.Unlock()
}

func (f *fakeNotifier) recipients() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, len(f.dispatched))
	copy(out, f.dispatched)
	return out
}

type fakeLimiter struct {
	allowed bool
	err     error
	calls   int
	mu      sync.Mutex
}

func (f *fakeLimiter) Allow(_ context.Context, _, _ string, _ int) (bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.allowed, f.err
}
