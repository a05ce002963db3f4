package models

import "time"

// MaxContentLength is the maximum number of characters in a message body.
const MaxContentLength = 1000

// Message represents a persisted direct message between two users.
// Immutable after creation except for the read flag.
type Message struct {
	ID         int64     `db:"id" json:"id"`
	SenderID   string    `db:"sender_id" json:"senderId"`
	ReceiverID string    `db:"receiver_id" json:"receiverId"`
	Content    string    `db:"content" json:"content"`
	Read       bool      `db:"read" json:"read"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// UserRef carries the display fields of a message sender or room counterpart.
type UserRef struct {
	ID           string `db:"id" json:"id"`
	Username     string `db:"username" json:"username"`
	ProfilePhoto string `db:"profile_photo" json:"profilePhoto"`
}

// PopulatedMessage is a message with the sender resolved to display fields.
// Broadcast messages are transient and carry a zero ID.
type PopulatedMessage struct {
	ID         int64     `json:"id,omitempty"`
	Sender     UserRef   `json:"sender"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Populate attaches sender display fields to a persisted message.
func (m Message) Populate(sender UserRef) PopulatedMessage {
	return PopulatedMessage{
		ID:         m.ID,
		Sender:     sender,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
	}
}
