package repositories

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"community-chat-service/internal/models"
)

// DefaultHistoryLimit bounds how many recent messages a history fetch returns.
const DefaultHistoryLimit = 50

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
)

// MessageRepository is the conversation store: persisted messages plus the
// per-user unread and last-activity metadata.
type MessageRepository interface {
	AppendMessage(ctx context.Context, senderID, receiverID, content string) (models.Message, error)
	GetConversation(ctx context.Context, userID, counterpartID string, limit int) ([]models.Message, error)
	MarkMessagesRead(ctx context.Context, userID string, messageIDs []int64) error
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// ValidateContent enforces the shared content rules for every send path.
func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

// AppendMessage persists a message and its side effects in one transaction:
// the message row, both participants' last_message_at, and the receiver's
// unread-set entry. Either all of it applies or none of it does.
func (r *MessageRepo) AppendMessage(ctx context.Context, senderID, receiverID, content string) (models.Message, error) {
	if err := ValidateContent(content); err != nil {
		return models.Message{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	if err := tx.QueryRowxContext(ctx,
		`INSERT INTO messages (sender_id, receiver_id, content) VALUES ($1, $2, $3)
         RETURNING id, sender_id, receiver_id, content, read, created_at`,
		senderID, receiverID, content).StructScan(&msg); err != nil {
		return models.Message{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET last_message_at = $1 WHERE id = ANY($2)`,
		msg.CreatedAt, pq.Array([]string{senderID, receiverID})); err != nil {
		return models.Message{}, err
	}

	// ON CONFLICT DO NOTHING keeps the insert safe under concurrent sends
	// to the same receiver.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO unread_messages (user_id, message_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		receiverID, msg.ID); err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetConversation returns the most recent messages between two users,
// oldest-first. Limit values below one fall back to DefaultHistoryLimit.
func (r *MessageRepo) GetConversation(ctx context.Context, userID, counterpartID string, limit int) ([]models.Message, error) {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, sender_id, receiver_id, content, read, created_at FROM messages
         WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
         ORDER BY created_at DESC, id DESC
         LIMIT $3`,
		userID, counterpartID, limit)
	if err != nil {
		return nil, err
	}
	return chronological(msgs), nil
}

// chronological reverses a newest-first window in place so history is
// always handed out oldest-first, regardless of entry point.
func chronological(msgs []models.Message) []models.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// MarkMessagesRead flags the given messages as read for the user and clears
// them from the unread set. Re-marking already-read messages is a no-op.
func (r *MessageRepo) MarkMessagesRead(ctx context.Context, userID string, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET read = TRUE
         WHERE receiver_id = $1 AND read = FALSE AND id = ANY($2)`,
		userID, pq.Array(messageIDs)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM unread_messages WHERE user_id = $1 AND message_id = ANY($2)`,
		userID, pq.Array(messageIDs)); err != nil {
		return err
	}

	return tx.Commit()
}

// ListConversations returns one row per counterpart the user has exchanged
// messages with, each holding the latest message, newest first.
func (r *MessageRepo) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	var summaries []models.ConversationSummary
	err := r.db.SelectContext(ctx, &summaries,
		`SELECT counterpart_id, content, created_at FROM (
            SELECT DISTINCT ON (CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END)
                CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END AS counterpart_id,
                content, created_at
            FROM messages
            WHERE sender_id = $1 OR receiver_id = $1
            ORDER BY CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END, created_at DESC, id DESC
        ) latest
        ORDER BY created_at DESC`,
		userID)
	return summaries, err
}
