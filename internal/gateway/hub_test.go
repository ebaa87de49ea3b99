package gateway

import (
	"context"
	"testing"
	"time"

	"spacechat/internal/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(userID uuid.UUID) *Client {
	return NewClient(nil, userID)
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.Send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestMemoryPresenceCountsConnections(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	userID := uuid.NewString()

	require.NoError(t, p.SetOnline(ctx, userID))
	require.NoError(t, p.SetOnline(ctx, userID))
	require.NoError(t, p.SetOffline(ctx, userID))

	online, err := p.IsOnline(ctx, userID)
	require.NoError(t, err)
	assert.True(t, online, "one connection remains")

	require.NoError(t, p.SetOffline(ctx, userID))
	online, err = p.IsOnline(ctx, userID)
	require.NoError(t, err)
	assert.False(t, online)

	// Offline on an unknown user must not underflow into negative counts.
	require.NoError(t, p.SetOffline(ctx, userID))
	require.NoError(t, p.SetOnline(ctx, userID))
	online, _ = p.IsOnline(ctx, userID)
	assert.True(t, online)
}

func TestMemoryPresenceOnlineAmong(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()

	require.NoError(t, p.SetOnline(ctx, a))

	online, err := p.OnlineAmong(ctx, []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, online)
}

func TestHubPresenceEventsOnFirstAndLastConnection(t *testing.T) {
	bus := &recordingBus{}
	hub := NewHub(NewMemoryPresence(), NewTypingTracker(time.Second, bus), bus, nil)
	ctx := context.Background()
	userID := uuid.New()

	first := newTestClient(userID)
	second := newTestClient(userID)

	hub.addClient(ctx, first)
	hub.addClient(ctx, second)
	assert.Len(t, bus.ofType(events.EventPresenceOnline), 1, "second connection stays silent")
	assert.Equal(t, 2, hub.ClientCount())

	hub.removeClient(ctx, second)
	assert.Empty(t, bus.ofType(events.EventPresenceOffline), "user still has a connection")

	hub.removeClient(ctx, first)
	assert.Len(t, bus.ofType(events.EventPresenceOffline), 1)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubRoomBroadcastExcludesSender(t *testing.T) {
	bus := &recordingBus{}
	hub := NewHub(NewMemoryPresence(), nil, bus, nil)
	ctx := context.Background()

	sender := newTestClient(uuid.New())
	receiver := newTestClient(uuid.New())
	outsider := newTestClient(uuid.New())

	hub.addClient(ctx, sender)
	hub.addClient(ctx, receiver)
	hub.addClient(ctx, outsider)
	hub.joinRoom(sender, "room-1")
	hub.joinRoom(receiver, "room-1")

	hub.BroadcastToRoom("room-1", []byte("hello"), sender.UserID)

	assert.Empty(t, drain(sender))
	assert.Len(t, drain(receiver), 1)
	assert.Empty(t, drain(outsider))
}

func TestHubBroadcastToUserHitsAllConnections(t *testing.T) {
	bus := &recordingBus{}
	hub := NewHub(NewMemoryPresence(), nil, bus, nil)
	ctx := context.Background()
	userID := uuid.New()

	laptop := newTestClient(userID)
	phone := newTestClient(userID)
	hub.addClient(ctx, laptop)
	hub.addClient(ctx, phone)

	hub.BroadcastToUser(userID, []byte("ping"))

	assert.Len(t, drain(laptop), 1)
	assert.Len(t, drain(phone), 1)
}

func TestHubDisconnectCleansRoomsAndTyping(t *testing.T) {
	bus := &recordingBus{}
	typing := NewTypingTracker(time.Minute, bus)
	hub := NewHub(NewMemoryPresence(), typing, bus, nil)
	ctx := context.Background()

	client := newTestClient(uuid.New())
	hub.addClient(ctx, client)
	hub.joinRoom(client, "room-1")
	typing.Start(ctx, "room-1", client.UserID)

	hub.removeClient(ctx, client)

	assert.Empty(t, hub.RoomMembers("room-1"))
	assert.Empty(t, typing.TypingIn("room-1"))
	assert.Len(t, bus.ofType(events.EventTypingStopped), 1)

	// Double unregister is safe.
	hub.removeClient(ctx, client)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHubKeepsTypingWhileUserStillConnected(t *testing.T) {
	bus := &recordingBus{}
	typing := NewTypingTracker(time.Minute, bus)
	hub := NewHub(NewMemoryPresence(), typing, bus, nil)
	ctx := context.Background()
	userID := uuid.New()

	laptop := newTestClient(userID)
	phone := newTestClient(userID)
	hub.addClient(ctx, laptop)
	hub.addClient(ctx, phone)
	typing.Start(ctx, "room-1", userID)

	// Dropping one of two connections must not clear the typing state.
	hub.removeClient(ctx, phone)
	assert.Equal(t, []uuid.UUID{userID}, typing.TypingIn("room-1"))
	assert.Empty(t, bus.ofType(events.EventTypingStopped))

	hub.removeClient(ctx, laptop)
	assert.Empty(t, typing.TypingIn("room-1"))
	assert.Len(t, bus.ofType(events.EventTypingStopped), 1)
}

func TestHubRoomMembersDeduplicatesUsers(t *testing.T) {
	bus := &recordingBus{}
	hub := NewHub(NewMemoryPresence(), nil, bus, nil)
	ctx := context.Background()
	userID := uuid.New()

	a := newTestClient(userID)
	b := newTestClient(userID)
	hub.addClient(ctx, a)
	hub.addClient(ctx, b)
	hub.joinRoom(a, "room-1")
	hub.joinRoom(b, "room-1")

	members := hub.RoomMembers("room-1")
	require.Len(t, members, 1)
	assert.Equal(t, userID, members[0])
}
