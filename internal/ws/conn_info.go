package ws

import "time"

// ConnInfo identifies an authenticated websocket connection. The user
// binding is set once at the handshake and never changes for the
// connection's lifetime.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
