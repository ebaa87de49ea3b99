package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"spacechat/internal/config"
	"spacechat/internal/domain/conversation"
	"spacechat/internal/domain/message"
	"spacechat/internal/domain/user"
	"spacechat/internal/repository"
	"spacechat/pkg/logger"

	"github.com/google/uuid"
)

// Cache key patterns:
// - user:{user_id}                          5m TTL
// - user:{user_id}:conversations            2m TTL
// - conversation:{conv_id}                  5m TTL
// - conversation:{conv_id}:participants     1-2m TTL
// - participant:{conv_id}:{user_id}         1m TTL
// - access:{conv_id}:{user_id}              1m TTL
// - message:{message_id}                    5m TTL
// - messages:{conv_id}:{cursor}             30s baseline, adaptive to 5m
// - search:{user_id}:{query_hash}           60s TTL

// Reader wraps the repositories with read-through caching. Every cache
// failure degrades to the authoritative store; a broken cache must never
// break message sending.
type Reader struct {
	store Store
	cfg   config.CacheConfig
	users repository.UserRepository
	convs repository.ConversationRepository
	msgs  repository.MessageRepository
	log   *logger.Logger

	mu       sync.Mutex
	pageHits map[string]int
}

func NewReader(store Store, cfg config.CacheConfig, users repository.UserRepository, convs repository.ConversationRepository, msgs repository.MessageRepository, log *logger.Logger) *Reader {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reader{
		store:    store,
		cfg:      cfg,
		users:    users,
		convs:    convs,
		msgs:     msgs,
		log:      log,
		pageHits: make(map[string]int),
	}
}

func userKey(id uuid.UUID) string  { return "user:" + id.String() }
func convKey(id uuid.UUID) string  { return "conversation:" + id.String() }
func spaceKey(id uuid.UUID) string { return "conversation:space:" + id.String() }
func msgKey(id uuid.UUID) string   { return "message:" + id.String() }

func userConvsKey(userID uuid.UUID) string {
	return "user:" + userID.String() + ":conversations"
}

func participantsKey(convID uuid.UUID) string {
	return "conversation:" + convID.String() + ":participants"
}

func participantKey(convID, userID uuid.UUID) string {
	return fmt.Sprintf("participant:%s:%s", convID, userID)
}

func accessKey(convID, userID uuid.UUID) string {
	return fmt.Sprintf("access:%s:%s", convID, userID)
}

func pageKey(convID uuid.UUID, page repository.Page) string {
	return fmt.Sprintf("messages:%s:b=%s:a=%s:l=%d", convID, page.Before, page.After, page.Limit)
}

func searchKey(userID uuid.UUID, query string, limit int) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", query, limit)
	return fmt.Sprintf("search:%s:%x", userID, h.Sum64())
}

// lookup returns the cached value for key, false on miss or cache error.
func (r *Reader) lookup(ctx context.Context, key string, out interface{}) bool {
	data, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.log.Warnf("cache get %s: %v", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		r.log.Warnf("cache decode %s: %v", key, err)
		return false
	}
	return true
}

func (r *Reader) put(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, key, data, ttl); err != nil {
		r.log.Warnf("cache set %s: %v", key, err)
	}
}

// User fetches a user read-through.
func (r *Reader) User(ctx context.Context, id uuid.UUID) (user.User, error) {
	var u user.User
	if r.lookup(ctx, userKey(id), &u) {
		return u, nil
	}
	u, err := r.users.GetByID(ctx, id)
	if err != nil {
		return user.User{}, err
	}
	r.put(ctx, userKey(id), u, r.cfg.UserTTL)
	return u, nil
}

// Conversation fetches a conversation row read-through.
func (r *Reader) Conversation(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	if r.lookup(ctx, convKey(id), &c) {
		return c, nil
	}
	c, err := r.convs.GetByID(ctx, id)
	if err != nil {
		return conversation.Conversation{}, err
	}
	r.put(ctx, convKey(id), c, r.cfg.ConversationTTL)
	return c, nil
}

// ConversationBySpace resolves the backing conversation of a space ref.
func (r *Reader) ConversationBySpace(ctx context.Context, spaceID uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	if r.lookup(ctx, spaceKey(spaceID), &c) {
		return c, nil
	}
	c, err := r.convs.GetBySpaceID(ctx, spaceID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	r.put(ctx, spaceKey(spaceID), c, r.cfg.ConversationTTL)
	return c, nil
}

// UserConversations fetches a user's conversation list read-through.
func (r *Reader) UserConversations(ctx context.Context, userID uuid.UUID) ([]conversation.Conversation, error) {
	var list []conversation.Conversation
	if r.lookup(ctx, userConvsKey(userID), &list) {
		return list, nil
	}
	list, err := r.convs.GetUserConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.put(ctx, userConvsKey(userID), list, r.cfg.ParticipantListTTL)
	return list, nil
}

// Participant fetches one membership row read-through.
func (r *Reader) Participant(ctx context.Context, convID, userID uuid.UUID) (conversation.Participant, error) {
	var p conversation.Participant
	if r.lookup(ctx, participantKey(convID, userID), &p) {
		return p, nil
	}
	p, err := r.convs.GetParticipant(ctx, convID, userID)
	if err != nil {
		return conversation.Participant{}, err
	}
	r.put(ctx, participantKey(convID, userID), p, r.cfg.ParticipantTTL)
	return p, nil
}

// Participants fetches the full roster read-through.
func (r *Reader) Participants(ctx context.Context, convID uuid.UUID) ([]conversation.Participant, error) {
	var list []conversation.Participant
	if r.lookup(ctx, participantsKey(convID), &list) {
		return list, nil
	}
	list, err := r.convs.GetParticipants(ctx, convID)
	if err != nil {
		return nil, err
	}
	r.put(ctx, participantsKey(convID), list, r.cfg.ParticipantListTTL)
	return list, nil
}

// HasAccess answers the active-participant check through a short-lived cache.
func (r *Reader) HasAccess(ctx context.Context, convID, userID uuid.UUID) (bool, error) {
	var ok bool
	if r.lookup(ctx, accessKey(convID, userID), &ok) {
		return ok, nil
	}
	ok, err := r.convs.HasAccess(ctx, convID, userID)
	if err != nil {
		return false, err
	}
	r.put(ctx, accessKey(convID, userID), ok, r.cfg.ParticipantTTL)
	return ok, nil
}

// Message fetches one message read-through.
func (r *Reader) Message(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	if r.lookup(ctx, msgKey(id), &m) {
		return m, nil
	}
	m, err := r.msgs.GetByID(ctx, id)
	if err != nil {
		return message.Message{}, err
	}
	r.put(ctx, msgKey(id), m, r.cfg.MessageTTL)
	return m, nil
}

type cachedPage struct {
	Messages []message.Message `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// MessagePage fetches one cursor window read-through. Page entries start at
// a short baseline TTL and earn a longer one proportional to how often they
// are hit, capped at the configured maximum. Hit tracking is process-local.
func (r *Reader) MessagePage(ctx context.Context, convID uuid.UUID, page repository.Page) ([]message.Message, bool, error) {
	key := pageKey(convID, page)

	var cached cachedPage
	if r.lookup(ctx, key, &cached) {
		r.mu.Lock()
		r.pageHits[key]++
		r.mu.Unlock()
		return cached.Messages, cached.HasMore, nil
	}

	messages, hasMore, err := r.msgs.List(ctx, convID, page)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	hits := r.pageHits[key]
	r.mu.Unlock()

	ttl := r.cfg.MessagePageTTL * time.Duration(1+hits)
	if ttl > r.cfg.MessagePageMaxTTL {
		ttl = r.cfg.MessagePageMaxTTL
	}
	r.put(ctx, key, cachedPage{Messages: messages, HasMore: hasMore}, ttl)
	return messages, hasMore, nil
}

// SearchMessages fetches search results read-through.
func (r *Reader) SearchMessages(ctx context.Context, userID uuid.UUID, query string, limit int) ([]message.Message, error) {
	key := searchKey(userID, query, limit)
	var results []message.Message
	if r.lookup(ctx, key, &results) {
		return results, nil
	}
	results, err := r.msgs.Search(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	r.put(ctx, key, results, r.cfg.SearchTTL)
	return results, nil
}

// --- Projection updates (post-commit or optimistic) ---

// StoreMessage refreshes the cached copy of a message.
func (r *Reader) StoreMessage(ctx context.Context, m message.Message) {
	r.put(ctx, msgKey(m.ID), m, r.cfg.MessageTTL)
}

// StoreParticipant refreshes the cached projection of a membership row.
func (r *Reader) StoreParticipant(ctx context.Context, p conversation.Participant) {
	r.put(ctx, participantKey(p.ConversationID, p.UserID), p, r.cfg.ParticipantTTL)
}

// StoreParticipants refreshes the cached roster.
func (r *Reader) StoreParticipants(ctx context.Context, convID uuid.UUID, list []conversation.Participant) {
	r.put(ctx, participantsKey(convID), list, r.cfg.ParticipantListTTL)
}

// StoreConversation refreshes the cached conversation projection.
func (r *Reader) StoreConversation(ctx context.Context, c conversation.Conversation) {
	r.put(ctx, convKey(c.ID), c, r.cfg.ConversationTTL)
	if c.SpaceID.Valid {
		r.put(ctx, spaceKey(c.SpaceID.UUID), c, r.cfg.ConversationTTL)
	}
}

// --- Invalidation ---

// InvalidateMessage drops one message and every page of its conversation.
func (r *Reader) InvalidateMessage(ctx context.Context, convID, messageID uuid.UUID) {
	if err := r.store.Delete(ctx, msgKey(messageID)); err != nil {
		r.log.Warnf("cache delete message %s: %v", messageID, err)
	}
	r.InvalidateMessagePages(ctx, convID)
}

// InvalidateMessagePages drops all cached cursor windows for a conversation.
func (r *Reader) InvalidateMessagePages(ctx context.Context, convID uuid.UUID) {
	if err := r.store.DeleteByPattern(ctx, "messages:"+convID.String()+":*"); err != nil {
		r.log.Warnf("cache delete pages %s: %v", convID, err)
	}
}

// InvalidateConversation drops the conversation projection and its roster.
func (r *Reader) InvalidateConversation(ctx context.Context, c conversation.Conversation) {
	keys := []string{convKey(c.ID), participantsKey(c.ID)}
	if c.SpaceID.Valid {
		keys = append(keys, spaceKey(c.SpaceID.UUID))
	}
	if err := r.store.Delete(ctx, keys...); err != nil {
		r.log.Warnf("cache delete conversation %s: %v", c.ID, err)
	}
}

// InvalidateMembership drops everything a membership mutation can stale:
// the roster, the per-pair participant and access entries, and the user's
// conversation list.
func (r *Reader) InvalidateMembership(ctx context.Context, convID, userID uuid.UUID) {
	keys := []string{
		participantsKey(convID),
		participantKey(convID, userID),
		accessKey(convID, userID),
		userConvsKey(userID),
	}
	if err := r.store.Delete(ctx, keys...); err != nil {
		r.log.Warnf("cache delete membership %s/%s: %v", convID, userID, err)
	}
}
