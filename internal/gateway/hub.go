package gateway

import (
	"context"
	"sync"

	"spacechat/internal/events"
	"spacechat/pkg/logger"

	"github.com/google/uuid"
)

// PresenceRegistry is the gateway's view of who is online. The in-memory
// implementation suits a single instance; the redis one is shared across a
// fleet.
type PresenceRegistry interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineAmong(ctx context.Context, userIDs []string) ([]string, error)
}

// MemoryPresence is the single-instance PresenceRegistry. Connection counts
// matter: a user with two connections stays online until both drop.
type MemoryPresence struct {
	mu    sync.RWMutex
	conns map[string]int
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{conns: make(map[string]int)}
}

func (m *MemoryPresence) SetOnline(_ context.Context, userID string) error {
	m.mu.Lock()
	m.conns[userID]++
	m.mu.Unlock()
	return nil
}

func (m *MemoryPresence) SetOffline(_ context.Context, userID string) error {
	m.mu.Lock()
	if m.conns[userID] > 0 {
		m.conns[userID]--
	}
	if m.conns[userID] == 0 {
		delete(m.conns, userID)
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conns[userID] > 0, nil
}

func (m *MemoryPresence) OnlineAmong(_ context.Context, userIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var online []string
	for _, id := range userIDs {
		if m.conns[id] > 0 {
			online = append(online, id)
		}
	}
	return online, nil
}

type roomRequest struct {
	client *Client
	room   string
	join   bool
}

// Hub maintains the set of active connections, room membership and
// presence. Rooms are keyed by the caller-facing conversation ref, so real
// and virtual conversations share one mechanism.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	byUser  map[uuid.UUID]map[string]*Client
	rooms   map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	roomReqs   chan roomRequest

	presence PresenceRegistry
	typing   *TypingTracker
	bus      events.Bus
	log      *logger.Logger
}

func NewHub(presence PresenceRegistry, typing *TypingTracker, bus events.Bus, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		byUser:     make(map[uuid.UUID]map[string]*Client),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 256),
		unregister: make(chan *Client, 256),
		roomReqs:   make(chan roomRequest, 512),
		presence:   presence,
		typing:     typing,
		bus:        bus,
		log:        log,
	}
}

// Run starts the hub's event loop.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addClient(ctx, client)
		case client := <-h.unregister:
			h.removeClient(ctx, client)
		case req := <-h.roomReqs:
			if req.join {
				h.joinRoom(req.client, req.room)
			} else {
				h.leaveRoom(req.client, req.room)
			}
		}
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Join adds a connection to a room.
func (h *Hub) Join(client *Client, room string) {
	h.roomReqs <- roomRequest{client: client, room: room, join: true}
}

// Leave removes a connection from a room.
func (h *Hub) Leave(client *Client, room string) {
	h.roomReqs <- roomRequest{client: client, room: room, join: false}
}

// BroadcastToRoom sends a payload to every connection in the room, skipping
// connections owned by excludeUserID when set.
func (h *Hub) BroadcastToRoom(room string, payload []byte, excludeUserID uuid.UUID) {
	h.mu.RLock()
	for c := range h.rooms[room] {
		if excludeUserID != uuid.Nil && c.UserID == excludeUserID {
			continue
		}
		c.SendMessage(payload)
	}
	h.mu.RUnlock()
}

// BroadcastToUser sends a payload to every connection of one user.
func (h *Hub) BroadcastToUser(userID uuid.UUID, payload []byte) {
	h.mu.RLock()
	for _, c := range h.byUser[userID] {
		c.SendMessage(payload)
	}
	h.mu.RUnlock()
}

// JoinUserToRoom moves every live connection of the user into the room.
// Used when a user is added to a conversation mid-session.
func (h *Hub) JoinUserToRoom(userID uuid.UUID, room string) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.Join(c, room)
	}
}

// RemoveUserFromRoom evicts every live connection of the user from the room.
func (h *Hub) RemoveUserFromRoom(userID uuid.UUID, room string) {
	h.mu.RLock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for _, c := range h.byUser[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		h.Leave(c, room)
	}
}

// RoomMembers returns the user ids with at least one connection in the room.
func (h *Hub) RoomMembers(room string) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[uuid.UUID]struct{})
	var members []uuid.UUID
	for c := range h.rooms[room] {
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		seen[c.UserID] = struct{}{}
		members = append(members, c.UserID)
	}
	return members
}

// BroadcastAll sends a payload to every live connection except those owned
// by excludeUserID.
func (h *Hub) BroadcastAll(payload []byte, excludeUserID uuid.UUID) {
	h.mu.RLock()
	for _, c := range h.clients {
		if excludeUserID != uuid.Nil && c.UserID == excludeUserID {
			continue
		}
		c.SendMessage(payload)
	}
	h.mu.RUnlock()
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(ctx context.Context, client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	if h.byUser[client.UserID] == nil {
		h.byUser[client.UserID] = make(map[string]*Client)
	}
	h.byUser[client.UserID][client.ID] = client
	firstConn := len(h.byUser[client.UserID]) == 1
	h.mu.Unlock()

	if err := h.presence.SetOnline(ctx, client.UserID.String()); err != nil {
		h.log.Warnf("presence online %s: %v", client.UserID, err)
	}
	if firstConn {
		h.bus.Publish(ctx, events.Event{
			Type:          events.EventPresenceOnline,
			ExcludeUserID: client.UserID.String(),
			Payload:       events.PresencePayload{UserID: client.UserID, Online: true},
		})
	}
}

func (h *Hub) removeClient(ctx context.Context, client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for room := range client.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	delete(h.clients, client.ID)
	delete(h.byUser[client.UserID], client.ID)
	lastConn := len(h.byUser[client.UserID]) == 0
	if lastConn {
		delete(h.byUser, client.UserID)
	}
	close(client.Send)
	h.mu.Unlock()

	// Typing state belongs to the user, not the socket; clear it only when
	// the user's final connection drops.
	if lastConn && h.typing != nil {
		h.typing.ClearUser(ctx, client.UserID)
	}
	if err := h.presence.SetOffline(ctx, client.UserID.String()); err != nil {
		h.log.Warnf("presence offline %s: %v", client.UserID, err)
	}
	if lastConn {
		h.bus.Publish(ctx, events.Event{
			Type:          events.EventPresenceOffline,
			ExcludeUserID: client.UserID.String(),
			Payload:       events.PresencePayload{UserID: client.UserID, Online: false},
		})
	}
}

func (h *Hub) joinRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.joinRoom(room)
}

func (h *Hub) leaveRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.leaveRoom(room)
}
