package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spacechat/internal/config"
	"spacechat/internal/domain/conversation"
	"spacechat/internal/domain/message"
	"spacechat/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubConvRepo overrides only what a test touches; anything else panics via
// the embedded nil interface.
type stubConvRepo struct {
	repository.ConversationRepository
	mu           sync.Mutex
	conv         conversation.Conversation
	participant  conversation.Participant
	getByIDCalls int
	accessCalls  int
}

func (s *stubConvRepo) GetByID(_ context.Context, id uuid.UUID) (conversation.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getByIDCalls++
	if s.conv.ID != id {
		return conversation.Conversation{}, errors.New("not found")
	}
	return s.conv, nil
}

func (s *stubConvRepo) GetParticipant(_ context.Context, _, _ uuid.UUID) (conversation.Participant, error) {
	return s.participant, nil
}

func (s *stubConvRepo) HasAccess(_ context.Context, _, _ uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessCalls++
	return true, nil
}

type stubMsgRepo struct {
	repository.MessageRepository
	mu        sync.Mutex
	page      []message.Message
	listCalls int
}

func (s *stubMsgRepo) List(_ context.Context, _ uuid.UUID, _ repository.Page) ([]message.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	return s.page, false, nil
}

func (s *stubMsgRepo) listCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		UserTTL:            5 * time.Minute,
		ConversationTTL:    5 * time.Minute,
		ParticipantTTL:     time.Minute,
		ParticipantListTTL: 2 * time.Minute,
		MessageTTL:         5 * time.Minute,
		MessagePageTTL:     30 * time.Second,
		MessagePageMaxTTL:  5 * time.Minute,
		SearchTTL:          time.Minute,
	}
}

func TestConversationReadThrough(t *testing.T) {
	conv := conversation.Conversation{ID: uuid.New(), Type: conversation.TypeGroup}
	convs := &stubConvRepo{conv: conv}
	reader := NewReader(NewMemoryStore(), testConfig(), nil, convs, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := reader.Conversation(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, got.ID)
	}
	assert.Equal(t, 1, convs.getByIDCalls, "only the first read hits the store")
}

func TestConversationExpiryRefetches(t *testing.T) {
	conv := conversation.Conversation{ID: uuid.New()}
	convs := &stubConvRepo{conv: conv}
	store := NewMemoryStore()

	now := time.Now()
	var mu sync.Mutex
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	reader := NewReader(store, testConfig(), nil, convs, nil, nil)
	ctx := context.Background()

	_, err := reader.Conversation(ctx, conv.ID)
	require.NoError(t, err)

	mu.Lock()
	now = now.Add(6 * time.Minute)
	mu.Unlock()

	_, err = reader.Conversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, convs.getByIDCalls)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache down")
}
func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache down")
}
func (failingStore) Delete(context.Context, ...string) error { return errors.New("cache down") }
func (failingStore) DeleteByPattern(context.Context, string) error {
	return errors.New("cache down")
}

func TestCacheFailureFallsThrough(t *testing.T) {
	conv := conversation.Conversation{ID: uuid.New()}
	convs := &stubConvRepo{conv: conv}
	reader := NewReader(failingStore{}, testConfig(), nil, convs, nil, nil)

	got, err := reader.Conversation(context.Background(), conv.ID)
	require.NoError(t, err, "a broken cache must not break reads")
	assert.Equal(t, conv.ID, got.ID)

	ok, err := reader.HasAccess(context.Background(), conv.ID, uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMessagePageInvalidation(t *testing.T) {
	convID := uuid.New()
	msgs := &stubMsgRepo{page: []message.Message{{ID: uuid.New(), ConversationID: convID}}}
	reader := NewReader(NewMemoryStore(), testConfig(), nil, nil, msgs, nil)
	ctx := context.Background()
	page := repository.Page{Limit: 50}

	_, _, err := reader.MessagePage(ctx, convID, page)
	require.NoError(t, err)
	_, _, err = reader.MessagePage(ctx, convID, page)
	require.NoError(t, err)
	assert.Equal(t, 1, msgs.listCount())

	reader.InvalidateMessagePages(ctx, convID)

	_, _, err = reader.MessagePage(ctx, convID, page)
	require.NoError(t, err)
	assert.Equal(t, 2, msgs.listCount())
}

func TestMessagePageAdaptiveTTL(t *testing.T) {
	convID := uuid.New()
	msgs := &stubMsgRepo{}
	store := NewMemoryStore()

	now := time.Now()
	var mu sync.Mutex
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	reader := NewReader(store, testConfig(), nil, nil, msgs, nil)
	ctx := context.Background()
	page := repository.Page{Limit: 50}

	// Miss plus two hits earn the window a longer TTL on its next fill.
	_, _, _ = reader.MessagePage(ctx, convID, page)
	_, _, _ = reader.MessagePage(ctx, convID, page)
	_, _, _ = reader.MessagePage(ctx, convID, page)
	require.Equal(t, 1, msgs.listCount())

	reader.InvalidateMessagePages(ctx, convID)
	_, _, _ = reader.MessagePage(ctx, convID, page)
	require.Equal(t, 2, msgs.listCount())

	// Baseline is 30s; with two recorded hits the refill lives 90s.
	mu.Lock()
	now = now.Add(60 * time.Second)
	mu.Unlock()
	_, _, _ = reader.MessagePage(ctx, convID, page)
	assert.Equal(t, 2, msgs.listCount(), "still cached past the baseline TTL")

	mu.Lock()
	now = now.Add(60 * time.Second)
	mu.Unlock()
	_, _, _ = reader.MessagePage(ctx, convID, page)
	assert.Equal(t, 3, msgs.listCount(), "expired after the stretched TTL")
}

func TestStoreParticipantProjection(t *testing.T) {
	convID := uuid.New()
	userID := uuid.New()
	convs := &stubConvRepo{}
	reader := NewReader(NewMemoryStore(), testConfig(), nil, convs, nil, nil)
	ctx := context.Background()

	p := conversation.Participant{
		ConversationID: convID,
		UserID:         userID,
		Status:         conversation.ParticipantActive,
		UnreadCount:    7,
	}
	reader.StoreParticipant(ctx, p)

	got, err := reader.Participant(ctx, convID, userID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.UnreadCount)
}

func TestInvalidateMembership(t *testing.T) {
	convID := uuid.New()
	userID := uuid.New()
	store := NewMemoryStore()
	convs := &stubConvRepo{participant: conversation.Participant{ConversationID: convID, UserID: userID}}
	reader := NewReader(store, testConfig(), nil, convs, nil, nil)
	ctx := context.Background()

	_, err := reader.Participant(ctx, convID, userID)
	require.NoError(t, err)
	_, err = reader.HasAccess(ctx, convID, userID)
	require.NoError(t, err)
	before := store.Len()
	require.Greater(t, before, 0)

	reader.InvalidateMembership(ctx, convID, userID)
	assert.Less(t, store.Len(), before)
}
