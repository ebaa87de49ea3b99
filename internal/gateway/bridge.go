package gateway

import (
	"context"
	"encoding/json"

	"spacechat/internal/events"
	"spacechat/pkg/logger"

	"github.com/google/uuid"
)

// Bridge subscribes to the event bus and fans events out to connected
// clients. Events delivered over redis arrive with map payloads, so every
// payload goes through a JSON round-trip into its typed form.
type Bridge struct {
	hub *Hub
	log *logger.Logger
}

func NewBridge(hub *Hub, bus events.Bus, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.NewNop()
	}
	b := &Bridge{hub: hub, log: log}
	bus.Subscribe(b.handle)
	return b
}

func (b *Bridge) handle(ctx context.Context, event events.Event) {
	switch event.Type {
	case events.EventMessageSent:
		b.broadcastMessage(event, OutNewMessage)
	case events.EventMessageConfirmed:
		b.broadcastMessage(event, OutMessageConfirmed)
	case events.EventMessageEdited:
		b.broadcastMessage(event, OutMessageEdited)
	case events.EventMessageDeleted:
		b.broadcastMessage(event, OutMessageDeleted)

	case events.EventMessageFailed:
		var payload events.MessageFailedPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.toUser(event.TargetUserID, OutMessageFailed, payload)

	case events.EventMessageRead:
		var payload events.ReadPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.toRoom(event, OutMessagesRead, payload)

	case events.EventReactionAdded:
		var payload events.ReactionPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.toRoom(event, OutReactionAdded, payload)
	case events.EventReactionRemoved:
		var payload events.ReactionPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.toRoom(event, OutReactionRemoved, payload)

	case events.EventTypingStarted, events.EventTypingStopped:
		var payload events.TypingPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.toRoom(event, OutUserTyping, payload)

	case events.EventPresenceOnline, events.EventPresenceOffline:
		var payload events.PresencePayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.hub.BroadcastAll(encodeFrame(OutUserStatusChanged, payload), parseUserID(event.ExcludeUserID))

	case events.EventConversationCreated:
		var payload events.ConversationPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		// Pull every member's live connections into the new room.
		for _, p := range payload.Conversation.Participants {
			b.hub.JoinUserToRoom(p.UserID, event.ConversationRef)
		}
		b.toRoom(event, OutConversationCreated, payload)
	case events.EventConversationUpdated:
		var payload events.ConversationPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.toRoom(event, OutConversationUpdated, payload)

	case events.EventParticipantAdded:
		var payload events.ParticipantPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.hub.JoinUserToRoom(payload.Participant.UserID, event.ConversationRef)
		b.toRoom(event, OutParticipantAdded, payload)
	case events.EventParticipantRemoved:
		var payload events.ParticipantPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.toRoom(event, OutParticipantRemoved, payload)
		b.hub.RemoveUserFromRoom(payload.Participant.UserID, event.ConversationRef)

	case events.EventMessageMention:
		var payload events.MentionPayload
		if !decodePayload(event.Payload, &payload) {
			return
		}
		b.toUser(event.TargetUserID, OutMentioned, payload)
	}
}

func (b *Bridge) broadcastMessage(event events.Event, frameType string) {
	var payload events.MessagePayload
	if !decodePayload(event.Payload, &payload) {
		return
	}
	b.toRoom(event, frameType, payload)
}

func (b *Bridge) toRoom(event events.Event, frameType string, payload interface{}) {
	b.hub.BroadcastToRoom(event.ConversationRef, encodeFrame(frameType, payload), parseUserID(event.ExcludeUserID))
}

func (b *Bridge) toUser(targetUserID, frameType string, payload interface{}) {
	userID := parseUserID(targetUserID)
	if userID == uuid.Nil {
		return
	}
	b.hub.BroadcastToUser(userID, encodeFrame(frameType, payload))
}

func parseUserID(s string) uuid.UUID {
	if s == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// decodePayload converts a payload into its typed form. Locally published
// events carry the typed struct; relayed ones carry a decoded JSON map. The
// round-trip handles both.
func decodePayload(payload interface{}, out interface{}) bool {
	if payload == nil {
		return false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}
