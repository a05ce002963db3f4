package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"community-chat-service/internal/auth"
	"community-chat-service/internal/models"
	"community-chat-service/internal/observability"
	"community-chat-service/internal/repositories"
)

// persistTimeout bounds every persistence call made from a socket handler
// so a slow store cannot suspend a connection indefinitely.
const persistTimeout = 5 * time.Second

var errSenderMismatch = errors.New("sender does not match authenticated connection")

// ChatWebSocketHandler owns the live message channel: handshake
// authentication, the per-connection event loop, and event dispatch.
type ChatWebSocketHandler struct {
	hub         *Hub
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	verifier    auth.TokenVerifier
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler.
func NewChatWebSocketHandler(hub *Hub, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, verifier auth.TokenVerifier) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{hub: hub, messageRepo: messageRepo, userRepo: userRepo, verifier: verifier}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the upgrade request, registers the connection and
// runs its event loop. An invalid credential refuses the connection before
// any event is processed.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("community-chat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.Register(conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishLifecycle(info, "ws_connect", "")

	go h.readLoop(conn, info)
}

func (h *ChatWebSocketHandler) authenticate(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("token"); token != "" {
			header = "Bearer " + token
		}
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 {
		return "", fmt.Errorf("missing credential")
	}
	return h.verifier.VerifyToken(parts[1])
}

func (h *ChatWebSocketHandler) readLoop(conn *websocket.Conn, info ConnInfo) {
	var closeReason string
	defer func() {
		h.hub.Unregister(conn)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		publishLifecycle(info, "ws_disconnect", closeReason)
		conn.Close()
	}()

	for {
		var evt models.ClientEvent
		if err := conn.ReadJSON(&evt); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				publishLifecycle(info, "ws_error", closeReason)
			}
			return
		}
		h.dispatch(conn, info, evt)
	}
}

func (h *ChatWebSocketHandler) dispatch(conn *websocket.Conn, info ConnInfo, evt models.ClientEvent) {
	observability.IncWSEvent(evt.Event)
	switch evt.Event {
	case models.EventJoinRoom:
		var p models.JoinRoomPayload
		if err := unmarshalPayload(evt, &p); err != nil {
			h.sendError(conn, "invalid joinRoom payload", err)
			return
		}
		h.handleJoinRoom(conn, info, p)
	case models.EventSendMessage:
		var p models.SendMessagePayload
		if err := unmarshalPayload(evt, &p); err != nil {
			h.sendError(conn, "invalid sendMessage payload", err)
			return
		}
		h.handleSendMessage(conn, info, p)
	case models.EventMarkMessagesRead:
		var p models.MarkMessagesReadPayload
		if err := unmarshalPayload(evt, &p); err != nil {
			h.sendError(conn, "invalid markMessagesRead payload", err)
			return
		}
		h.handleMarkMessagesRead(conn, info, p)
	default:
		h.sendError(conn, "unknown event", fmt.Errorf("unsupported event %q", evt.Event))
	}
}

func (h *ChatWebSocketHandler) handleJoinRoom(conn *websocket.Conn, info ConnInfo, p models.JoinRoomPayload) {
	if p.SenderID != "" && p.SenderID != info.UserID {
		h.sendError(conn, "cannot join room for another user", errSenderMismatch)
		return
	}

	recipient, err := models.ParseRecipient(p.ReceiverID)
	if err != nil || recipient.Broadcast() {
		h.sendError(conn, "invalid receiver", fmt.Errorf("joinRoom requires a direct receiver"))
		return
	}
	if recipient.UserID() == info.UserID {
		h.sendError(conn, "cannot open a conversation with yourself", fmt.Errorf("self conversation rejected"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	users, err := h.userRepo.BulkUsers(ctx, []string{info.UserID, recipient.UserID()})
	if err != nil {
		h.sendError(conn, "failed to load users", err)
		return
	}
	refs := make(map[string]models.UserRef, len(users))
	for _, u := range users {
		refs[u.ID] = u.Ref()
	}
	counterpart, ok := refs[recipient.UserID()]
	if !ok {
		h.sendError(conn, "receiver not found", repositories.ErrUserNotFound)
		return
	}

	// History rides along with the join confirmation so the client has no
	// race between "joined" and "history loaded". The membership is only
	// established once history is in hand; a failed load must not leave the
	// connection silently subscribed to the room.
	history, err := h.messageRepo.GetConversation(ctx, info.UserID, recipient.UserID(), repositories.DefaultHistoryLimit)
	if err != nil {
		h.sendError(conn, "failed to load messages", err)
		return
	}
	populated := make([]models.PopulatedMessage, 0, len(history))
	for _, m := range history {
		populated = append(populated, m.Populate(refs[m.SenderID]))
	}

	roomID := ResolveRoom(info.UserID, recipient.UserID())
	h.hub.JoinRoom(roomID, conn)

	h.send(conn, models.ServerEvent{Event: models.EventRoomJoined, Data: models.RoomJoinedPayload{
		RoomID:   roomID,
		Receiver: counterpart,
		Messages: populated,
	}})
}

func (h *ChatWebSocketHandler) handleSendMessage(conn *websocket.Conn, info ConnInfo, p models.SendMessagePayload) {
	if p.SenderID != "" && p.SenderID != info.UserID {
		h.sendError(conn, "cannot send as another user", errSenderMismatch)
		return
	}

	recipient, err := models.ParseRecipient(p.ReceiverID)
	if err != nil {
		h.sendError(conn, "receiver is required", err)
		return
	}
	if err := repositories.ValidateContent(p.Content); err != nil {
		h.sendError(conn, "invalid message content", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	sender, err := h.userRepo.GetUser(ctx, info.UserID)
	if err != nil {
		h.sendError(conn, "failed to load sender", err)
		return
	}

	if recipient.Broadcast() {
		// Broadcast messages are transient: fanned out live to everyone,
		// never persisted, never counted unread.
		h.hub.BroadcastAll(models.ServerEvent{Event: models.EventNewMessage, Data: models.PopulatedMessage{
			Sender:     sender.Ref(),
			ReceiverID: models.BroadcastReceiver,
			Content:    p.Content,
			CreatedAt:  time.Now().UTC(),
		}})
		return
	}

	if recipient.UserID() == info.UserID {
		h.sendError(conn, "cannot message yourself", fmt.Errorf("self conversation rejected"))
		return
	}
	if _, err := h.userRepo.GetUser(ctx, recipient.UserID()); err != nil {
		h.sendError(conn, "receiver not found", err)
		return
	}

	msg, err := h.messageRepo.AppendMessage(ctx, info.UserID, recipient.UserID(), p.Content)
	if err != nil {
		h.sendError(conn, "failed to store message", err)
		return
	}

	roomID := ResolveRoom(info.UserID, recipient.UserID())
	// The sending socket is excluded; clients render their own message
	// optimistically and must not receive a server echo.
	h.hub.BroadcastToRoom(roomID, models.ServerEvent{Event: models.EventNewMessage, Data: msg.Populate(sender.Ref())}, conn)

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "chat_events.messages", observability.EventEnvelope{
		EventType: "chat_events",
		EventName: "message_sent",
		Payload: map[string]interface{}{
			"message_id":  msg.ID,
			"sender_id":   msg.SenderID,
			"receiver_id": msg.ReceiverID,
			"room_id":     roomID,
		},
	}, headers)
}

func (h *ChatWebSocketHandler) handleMarkMessagesRead(conn *websocket.Conn, info ConnInfo, p models.MarkMessagesReadPayload) {
	if p.UserID != "" && p.UserID != info.UserID {
		h.sendError(conn, "cannot acknowledge for another user", errSenderMismatch)
		return
	}
	if len(p.MessageIDs) == 0 {
		h.sendError(conn, "messageIds are required", fmt.Errorf("empty message id list"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := h.messageRepo.MarkMessagesRead(ctx, info.UserID, p.MessageIDs); err != nil {
		h.sendError(conn, "failed to mark messages read", err)
		return
	}

	// Confirmation goes to the requesting connection only.
	h.send(conn, models.ServerEvent{Event: models.EventMessagesRead, Data: models.MessagesReadPayload{MessageIDs: p.MessageIDs}})
}

func (h *ChatWebSocketHandler) send(conn *websocket.Conn, event models.ServerEvent) {
	if err := h.hub.Send(conn, event); err != nil && !errors.Is(err, ErrConnNotRegistered) {
		log.Printf("websocket write error: %v", err)
	}
}

func (h *ChatWebSocketHandler) sendError(conn *websocket.Conn, message string, err error) {
	h.send(conn, models.ServerEvent{Event: models.EventChatError, Data: models.ChatErrorPayload{
		Message: message,
		Error:   err.Error(),
	}})
}

func unmarshalPayload(evt models.ClientEvent, out any) error {
	if len(evt.Data) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(evt.Data, out)
}

func publishLifecycle(info ConnInfo, event, reason string) {
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.chat", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, headers)
}
