package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"spacechat/internal/auth"
	"spacechat/internal/chat"
	"spacechat/internal/transport/httpdto"
	"spacechat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const readDeadline = 60 * time.Second

// Handler upgrades HTTP requests to WebSocket sessions and drives the
// per-connection read loop.
type Handler struct {
	verifier      *auth.Verifier
	hub           *Hub
	typing        *TypingTracker
	messages      *chat.MessageService
	conversations *chat.ConversationService
	log           *logger.Logger
}

func NewHandler(verifier *auth.Verifier, hub *Hub, typing *TypingTracker, messages *chat.MessageService, conversations *chat.ConversationService, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{
		verifier:      verifier,
		hub:           hub,
		typing:        typing,
		messages:      messages,
		conversations: conversations,
		log:           log,
	}
}

// Connect authenticates via the token query parameter, upgrades and joins
// the user's conversations before entering the read loop.
func (h *Handler) Connect(c *gin.Context) {
	userID, err := h.verifier.Verify(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := NewClient(conn, userID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Register(client)
	go client.WriteLoop(ctx)

	// Pre-join every conversation the user belongs to so broadcasts reach
	// them without an explicit join frame.
	if convs, err := h.conversations.List(ctx, userID); err == nil {
		for _, conv := range convs {
			h.hub.Join(client, conv.Ref())
		}
	} else {
		h.log.Warnf("autojoin %s: %v", userID, err)
	}

	client.SendMessage(encodeFrame(OutConnectionSuccess, gin.H{"client_id": client.ID}))

	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		h.dispatch(ctx, client, raw)
	}

	h.hub.Unregister(client)
}

func (h *Handler) dispatch(ctx context.Context, client *Client, raw []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		client.SendMessage(encodeFrame(OutError, ErrorData{Message: "malformed frame"}))
		return
	}

	switch frame.Type {
	case InJoinConversation:
		var req JoinRequest
		if !decodeData(frame.Data, &req, client) {
			return
		}
		if _, err := h.conversations.Get(ctx, client.UserID, req.ConversationRef); err != nil {
			h.sendError(client, err)
			return
		}
		h.hub.Join(client, req.ConversationRef)
		client.SendMessage(encodeFrame(OutJoinedConversation, req))

	case InLeaveConversation:
		var req JoinRequest
		if !decodeData(frame.Data, &req, client) {
			return
		}
		h.hub.Leave(client, req.ConversationRef)
		h.typing.Stop(ctx, req.ConversationRef, client.UserID)
		client.SendMessage(encodeFrame(OutLeftConversation, req))

	case InTypingStart:
		var req TypingRequest
		if !decodeData(frame.Data, &req, client) {
			return
		}
		h.typing.Start(ctx, req.ConversationRef, client.UserID)

	case InTypingStop:
		var req TypingRequest
		if !decodeData(frame.Data, &req, client) {
			return
		}
		h.typing.Stop(ctx, req.ConversationRef, client.UserID)

	case InMarkMessagesRead:
		var req MarkReadRequest
		if !decodeData(frame.Data, &req, client) {
			return
		}
		if err := h.messages.MarkRead(ctx, client.UserID, req.ConversationRef, req.MessageID); err != nil {
			h.sendError(client, err)
		}

	case InSendMessage:
		var req SendMessageRequest
		if !decodeData(frame.Data, &req, client) {
			return
		}
		result, err := h.messages.SendMessage(ctx, client.UserID, chat.SendRequest{
			ConversationRef: req.ConversationRef,
			Type:            req.Type,
			Content:         req.Content,
			OptimisticID:    req.OptimisticID,
			ReplyTo:         req.ReplyTo,
			ThreadID:        req.ThreadID,
			Mentions:        req.Mentions,
		})
		if err != nil {
			h.sendError(client, err)
			return
		}
		// The sender's own frame carries the full response; the room got
		// new_message via the bridge.
		client.SendMessage(encodeFrame(OutNewMessage, result))

	case InRequestOnlineUsers:
		var req OnlineUsersRequest
		if !decodeData(frame.Data, &req, client) {
			return
		}
		members := h.hub.RoomMembers(req.ConversationRef)
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.String()
		}
		online, err := h.hub.presence.OnlineAmong(ctx, ids)
		if err != nil {
			h.sendError(client, err)
			return
		}
		client.SendMessage(encodeFrame(OutOnlineUsers, OnlineUsersResponse{
			ConversationRef: req.ConversationRef,
			UserIDs:         online,
		}))

	default:
		client.SendMessage(encodeFrame(OutError, ErrorData{Message: "unknown frame type", Code: frame.Type}))
	}
}

func (h *Handler) sendError(client *Client, err error) {
	client.SendMessage(encodeFrame(OutError, ErrorData{Message: err.Error()}))
}

func decodeData(raw json.RawMessage, out interface{}, client *Client) bool {
	if err := json.Unmarshal(raw, out); err != nil {
		client.SendMessage(encodeFrame(OutError, ErrorData{Message: "malformed frame data"}))
		return false
	}
	return true
}
