package gateway

import (
	"context"
	"sync"
	"time"

	"spacechat/internal/events"

	"github.com/google/uuid"
)

type typingKey struct {
	room   string
	userID uuid.UUID
}

// TypingTracker keeps the per-room set of currently typing users. A typing
// indicator expires after the quiet period unless refreshed, so an abandoned
// draft never shows a user typing forever.
type TypingTracker struct {
	mu     sync.Mutex
	active map[typingKey]*time.Timer
	rooms  map[string]map[uuid.UUID]struct{}

	quietPeriod time.Duration
	bus         events.Bus

	// afterFunc is swapped by tests to control timer firing.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewTypingTracker(quietPeriod time.Duration, bus events.Bus) *TypingTracker {
	return &TypingTracker{
		active:      make(map[typingKey]*time.Timer),
		rooms:       make(map[string]map[uuid.UUID]struct{}),
		quietPeriod: quietPeriod,
		bus:         bus,
		afterFunc:   time.AfterFunc,
	}
}

// Start marks the user as typing in the room. Repeated starts refresh the
// expiry timer.
func (t *TypingTracker) Start(ctx context.Context, room string, userID uuid.UUID) {
	key := typingKey{room: room, userID: userID}

	t.mu.Lock()
	fresh := false
	if timer, ok := t.active[key]; ok {
		timer.Stop()
	} else {
		fresh = true
	}
	t.active[key] = t.afterFunc(t.quietPeriod, func() {
		t.expire(room, userID)
	})
	if t.rooms[room] == nil {
		t.rooms[room] = make(map[uuid.UUID]struct{})
	}
	t.rooms[room][userID] = struct{}{}
	t.mu.Unlock()

	if fresh {
		t.bus.Publish(ctx, events.Event{
			Type:            events.EventTypingStarted,
			ConversationRef: room,
			ExcludeUserID:   userID.String(),
			Payload:         events.TypingPayload{UserID: userID, IsTyping: true},
		})
	}
}

// Stop clears the user's typing state in the room.
func (t *TypingTracker) Stop(ctx context.Context, room string, userID uuid.UUID) {
	if !t.clear(room, userID) {
		return
	}
	t.bus.Publish(ctx, events.Event{
		Type:            events.EventTypingStopped,
		ConversationRef: room,
		ExcludeUserID:   userID.String(),
		Payload:         events.TypingPayload{UserID: userID, IsTyping: false},
	})
}

// ClearUser drops the user's typing state everywhere. Called on disconnect.
func (t *TypingTracker) ClearUser(ctx context.Context, userID uuid.UUID) {
	t.mu.Lock()
	var rooms []string
	for key := range t.active {
		if key.userID == userID {
			rooms = append(rooms, key.room)
		}
	}
	t.mu.Unlock()

	for _, room := range rooms {
		t.Stop(ctx, room, userID)
	}
}

// TypingIn returns the users currently typing in the room.
func (t *TypingTracker) TypingIn(room string) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var users []uuid.UUID
	for userID := range t.rooms[room] {
		users = append(users, userID)
	}
	return users
}

func (t *TypingTracker) expire(room string, userID uuid.UUID) {
	if !t.clear(room, userID) {
		return
	}
	t.bus.Publish(context.Background(), events.Event{
		Type:            events.EventTypingStopped,
		ConversationRef: room,
		ExcludeUserID:   userID.String(),
		Payload:         events.TypingPayload{UserID: userID, IsTyping: false},
	})
}

// clear removes the entry and reports whether it existed.
func (t *TypingTracker) clear(room string, userID uuid.UUID) bool {
	key := typingKey{room: room, userID: userID}

	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.active[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.active, key)
	if users, ok := t.rooms[room]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.rooms, room)
		}
	}
	return true
}
