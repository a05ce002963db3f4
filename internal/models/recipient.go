package models

import "errors"

// BroadcastReceiver is the wire sentinel meaning "deliver to all connected
// clients, do not persist". It only exists at the wire; internally the
// receiver is a tagged Recipient.
const BroadcastReceiver = "all"

var ErrMissingReceiver = errors.New("receiver is required")

// Recipient is either a direct user or the transient broadcast audience.
type Recipient struct {
	userID    string
	broadcast bool
}

// ParseRecipient converts a wire receiver value into a Recipient.
func ParseRecipient(raw string) (Recipient, error) {
	if raw == "" {
		return Recipient{}, ErrMissingReceiver
	}
	if raw == BroadcastReceiver {
		return Recipient{broadcast: true}, nil
	}
	return Recipient{userID: raw}, nil
}

// DirectRecipient builds a Recipient addressing a single user.
func DirectRecipient(userID string) Recipient {
	return Recipient{userID: userID}
}

// Broadcast reports whether the recipient is the broadcast audience.
func (r Recipient) Broadcast() bool {
	return r.broadcast
}

// UserID returns the addressed user id; empty for broadcast.
func (r Recipient) UserID() string {
	return r.userID
}

// String renders the wire form of the recipient.
func (r Recipient) String() string {
	if r.broadcast {
		return BroadcastReceiver
	}
	return r.userID
}
