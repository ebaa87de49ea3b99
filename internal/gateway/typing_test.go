package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"spacechat/internal/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

func (b *recordingBus) Subscribe(events.Handler, ...string) {}

func (b *recordingBus) ofType(eventType string) []events.Event {
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

func TestTypingStartPublishesOnce(t *testing.T) {
	bus := &recordingBus{}
	tracker := NewTypingTracker(5*time.Second, bus)
	ctx := context.Background()
	userID := uuid.New()

	tracker.Start(ctx, "room-1", userID)
	tracker.Start(ctx, "room-1", userID)
	tracker.Start(ctx, "room-1", userID)

	started := bus.ofType(events.EventTypingStarted)
	require.Len(t, started, 1, "refreshes must not re-announce")
	assert.Equal(t, "room-1", started[0].ConversationRef)
	assert.Equal(t, userID.String(), started[0].ExcludeUserID)
	assert.Contains(t, tracker.TypingIn("room-1"), userID)
}

func TestTypingStopPublishesOnlyWhenActive(t *testing.T) {
	bus := &recordingBus{}
	tracker := NewTypingTracker(5*time.Second, bus)
	ctx := context.Background()
	userID := uuid.New()

	tracker.Stop(ctx, "room-1", userID)
	assert.Empty(t, bus.ofType(events.EventTypingStopped), "stop without start is a no-op")

	tracker.Start(ctx, "room-1", userID)
	tracker.Stop(ctx, "room-1", userID)
	tracker.Stop(ctx, "room-1", userID)

	stopped := bus.ofType(events.EventTypingStopped)
	require.Len(t, stopped, 1)
	assert.Empty(t, tracker.TypingIn("room-1"))
}

func TestTypingExpiresAfterQuietPeriod(t *testing.T) {
	bus := &recordingBus{}
	tracker := NewTypingTracker(5*time.Second, bus)

	// Capture the expiry callback instead of waiting on a real timer.
	var fire func()
	tracker.afterFunc = func(d time.Duration, f func()) *time.Timer {
		fire = f
		return time.NewTimer(time.Hour)
	}

	userID := uuid.New()
	tracker.Start(context.Background(), "room-1", userID)
	require.NotNil(t, fire)

	fire()

	require.Len(t, bus.ofType(events.EventTypingStopped), 1)
	assert.Empty(t, tracker.TypingIn("room-1"))

	// A stale timer firing after an explicit stop must not double-publish.
	fire()
	assert.Len(t, bus.ofType(events.EventTypingStopped), 1)
}

func TestTypingClearUserSweepsAllRooms(t *testing.T) {
	bus := &recordingBus{}
	tracker := NewTypingTracker(5*time.Second, bus)
	ctx := context.Background()
	userID := uuid.New()
	other := uuid.New()

	tracker.Start(ctx, "room-1", userID)
	tracker.Start(ctx, "room-2", userID)
	tracker.Start(ctx, "room-2", other)

	tracker.ClearUser(ctx, userID)

	assert.Len(t, bus.ofType(events.EventTypingStopped), 2)
	assert.Empty(t, tracker.TypingIn("room-1"))
	assert.Equal(t, []uuid.UUID{other}, tracker.TypingIn("room-2"))
}
