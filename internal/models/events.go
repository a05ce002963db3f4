package models

import "encoding/json"

// Socket event names. These are part of the wire contract.
const (
	EventJoinRoom         = "joinRoom"
	EventRoomJoined       = "roomJoined"
	EventSendMessage      = "sendMessage"
	EventNewMessage       = "newMessage"
	EventMarkMessagesRead = "markMessagesRead"
	EventMessagesRead     = "messagesRead"
	EventChatError        = "chatError"
)

// ClientEvent is the envelope for events received from a websocket client.
type ClientEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent is the envelope for events emitted to websocket clients.
type ServerEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// JoinRoomPayload asks to join the room shared with a counterpart.
type JoinRoomPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// RoomJoinedPayload confirms a join and bundles the recent history so the
// client has no race between "joined" and "history loaded".
type RoomJoinedPayload struct {
	RoomID   string             `json:"roomId"`
	Receiver UserRef            `json:"receiver"`
	Messages []PopulatedMessage `json:"messages"`
}

// SendMessagePayload carries an outgoing message. ReceiverID may be the
// broadcast sentinel.
type SendMessagePayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// MarkMessagesReadPayload acknowledges messages as read.
type MarkMessagesReadPayload struct {
	UserID     string  `json:"userId"`
	MessageIDs []int64 `json:"messageIds"`
}

// MessagesReadPayload confirms a mark-read to the requesting connection.
type MessagesReadPayload struct {
	MessageIDs []int64 `json:"messageIds"`
}

// ChatErrorPayload reports a handler failure back to the originating
// connection.
type ChatErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
