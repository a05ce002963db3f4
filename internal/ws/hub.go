package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"community-chat-service/internal/models"
	"community-chat-service/internal/observability"
)

// session is the per-connection state: the immutable user binding plus the
// set of rooms the connection has joined.
type session struct {
	info    ConnInfo
	rooms   map[string]bool
	writeMu sync.Mutex
}

// Hub is the presence/session manager. It owns the mapping from live
// websocket connections to authenticated users and their room memberships.
// Constructed once per process and passed by reference to handlers.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*websocket.Conn]bool
	sessions map[*websocket.Conn]*session
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*websocket.Conn]bool),
		sessions: make(map[*websocket.Conn]*session),
	}
}

// Register binds a connection to its authenticated user.
func (h *Hub) Register(conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[conn] = &session{info: info, rooms: make(map[string]bool)}
}

// Unregister removes the connection and all its room memberships. No
// persisted state is affected by disconnection alone.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[conn]
	if !ok {
		return
	}
	for roomID := range sess.rooms {
		if conns, ok := h.rooms[roomID]; ok {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	delete(h.sessions, conn)
}

// JoinRoom adds the connection to a room. Joining an already-joined room
// is a no-op. Returns false when the connection is not registered.
func (h *Hub) JoinRoom(roomID string, conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[conn]
	if !ok {
		return false
	}
	if sess.rooms[roomID] {
		return true
	}
	sess.rooms[roomID] = true
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*websocket.Conn]bool)
	}
	h.rooms[roomID][conn] = true
	return true
}

// ConnInfo returns the session info bound to a connection.
func (h *Hub) ConnInfo(conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[conn]
	if !ok {
		return ConnInfo{}, false
	}
	return sess.info, true
}

// ErrConnNotRegistered is returned for writes to a connection the hub no
// longer tracks.
var ErrConnNotRegistered = errors.New("connection not registered")

// Send writes an event to a single connection. Writes to an unregistered
// connection are dropped: the connection is being torn down, and writing
// without the session's write mutex would break the one-writer contract.
func (h *Hub) Send(conn *websocket.Conn, event models.ServerEvent) error {
	h.mu.RLock()
	sess, ok := h.sessions[conn]
	h.mu.RUnlock()
	if !ok {
		return ErrConnNotRegistered
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// BroadcastToRoom delivers an event to every member of a room. The except
// connection, when non-nil, is skipped so the sender does not receive an
// echo of its own message.
func (h *Hub) BroadcastToRoom(roomID string, event models.ServerEvent, except *websocket.Conn) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[roomID]))
	for conn := range h.rooms[roomID] {
		if conn != except {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	h.fanOut(conns, event)
}

// BroadcastAll delivers a transient event to every connected client.
func (h *Hub) BroadcastAll(event models.ServerEvent) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.sessions))
	for conn := range h.sessions {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	h.fanOut(conns, event)
}

func (h *Hub) fanOut(conns []*websocket.Conn, event models.ServerEvent) {
	for _, conn := range conns {
		if err := h.Send(conn, event); err != nil {
			if errors.Is(err, ErrConnNotRegistered) {
				// Lost a race with Unregister; teardown already ran.
				continue
			}
			log.Printf("websocket write error: %v", err)
			info, known := h.ConnInfo(conn)
			conn.Close()
			h.Unregister(conn)
			if known {
				h.publishWSError(info, err)
			}
		}
	}
}

func (h *Hub) publishWSError(info ConnInfo, err error) {
	observability.IncWSEvent("ws_error")
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), "ws_events.chat", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_error",
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       "ws_error",
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      err.Error(),
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, headers)
}
