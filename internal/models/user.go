package models

import "time"

// User is the chat-relevant slice of a platform account. The core only
// mutates LastMessageAt and the unread set; everything else is owned by
// the account service.
type User struct {
	ID            string     `db:"id" json:"id"`
	Username      string     `db:"username" json:"username"`
	ProfilePhoto  string     `db:"profile_photo" json:"profilePhoto"`
	LastMessageAt *time.Time `db:"last_message_at" json:"lastMessageAt,omitempty"`
}

// Ref projects the display fields of the user.
func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username, ProfilePhoto: u.ProfilePhoto}
}

// ConversationSummary is one row of a user's conversation list: the
// counterpart and the most recent message exchanged with them. Derived
// per request, never persisted.
type ConversationSummary struct {
	UserID      string    `db:"counterpart_id" json:"userId"`
	Username    string    `json:"username"`
	LastMessage string    `db:"content" json:"lastMessage"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
