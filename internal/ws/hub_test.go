package ws

import (
	"errors"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"community-chat-service/internal/models"
)

func TestHubRegisterAndUnregister(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	hub.Register(conn, ConnInfo{ConnID: "c1", UserID: "alice"})
	if info, ok := hub.ConnInfo(conn); !ok || info.UserID != "alice" {
		t.Fatalf("expected session bound to alice, got %+v ok=%v", info, ok)
	}

	hub.Unregister(conn)
	if _, ok := hub.ConnInfo(conn); ok {
		t.Fatalf("expected session to be removed")
	}
}

func TestHubJoinRoomIdempotent(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	hub.Register(conn, ConnInfo{UserID: "alice"})

	if !hub.JoinRoom("alice:bob", conn) {
		t.Fatalf("expected join to succeed")
	}
	if !hub.JoinRoom("alice:bob", conn) {
		t.Fatalf("expected repeated join to be a no-op, not a failure")
	}
	if len(hub.rooms["alice:bob"]) != 1 {
		t.Fatalf("expected one membership, got %d", len(hub.rooms["alice:bob"]))
	}
}

func TestHubJoinRoomRequiresRegistration(t *testing.T) {
	hub := NewHub()
	if hub.JoinRoom("alice:bob", &websocket.Conn{}) {
		t.Fatalf("expected join to fail for unregistered connection")
	}
}

func TestHubSendRejectsUnregisteredConn(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}

	if err := hub.Send(conn, models.ServerEvent{Event: models.EventNewMessage}); !errors.Is(err, ErrConnNotRegistered) {
		t.Fatalf("expected ErrConnNotRegistered, got %v", err)
	}

	hub.Register(conn, ConnInfo{UserID: "alice"})
	hub.Unregister(conn)
	if err := hub.Send(conn, models.ServerEvent{Event: models.EventNewMessage}); !errors.Is(err, ErrConnNotRegistered) {
		t.Fatalf("expected ErrConnNotRegistered after unregister, got %v", err)
	}
}

func TestHubSendSafeAfterUnregister(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	hub.Register(conn, ConnInfo{UserID: "alice"})
	hub.Unregister(conn)

	// Concurrent sends to a torn-down connection must all be dropped
	// without touching the raw connection.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := hub.Send(conn, models.ServerEvent{Event: models.EventNewMessage}); !errors.Is(err, ErrConnNotRegistered) {
				t.Errorf("expected dropped write, got %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestHubUnregisterClearsMemberships(t *testing.T) {
	hub := NewHub()
	conn := &websocket.Conn{}
	other := &websocket.Conn{}
	hub.Register(conn, ConnInfo{UserID: "alice"})
	hub.Register(other, ConnInfo{UserID: "bob"})
	hub.JoinRoom("alice:bob", conn)
	hub.JoinRoom("alice:bob", other)
	hub.JoinRoom("alice:carol", conn)

	hub.Unregister(conn)

	if len(hub.rooms["alice:bob"]) != 1 {
		t.Fatalf("expected bob's membership to survive, got %d", len(hub.rooms["alice:bob"]))
	}
	if _, ok := hub.rooms["alice:carol"]; ok {
		t.Fatalf("expected empty room to be dropped")
	}
}
