package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// conversationRepository implements repository.ConversationRepository for SQLite.
type conversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new SQLite conversation repository.
func NewConversationRepository(db *DB) repository.ConversationRepository {
	return &conversationRepository{db: db}
}

// Get retrieves a conversation with its participants.
func (r *conversationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, type, title, creator_id, participants, created_at, version
		FROM conversations
		WHERE id = ?
	`

	c := &domain.Conversation{}
	var participants, createdAt string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.Type,
		&c.Title,
		&c.CreatorID,
		&participants,
		&createdAt,
		&c.Version,
	)
	if err != nil {
		return nil, readErr("get conversation", err)
	}

	c.Participants = make(map[uuid.UUID]domain.Participant)
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return c, nil
}

// Save inserts a conversation or updates it if its version still matches.
func (r *conversationRepository) Save(ctx context.Context, c *domain.Conversation) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	if c.Version == 0 {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO conversations (id, type, title, creator_id, participants, created_at, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)
		`, c.ID, string(c.Type), c.Title, c.CreatorID, string(participants), formatTime(c.CreatedAt))
		if err != nil {
			return writeErr("insert conversation", err)
		}
	} else {
		res, err := r.db.ExecContext(ctx, `
			UPDATE conversations
			SET title = ?, participants = ?, version = version + 1
			WHERE id = ? AND version = ?
		`, c.Title, string(participants), c.ID, c.Version)
		err = guarded(ctx, r.db, "update conversation", res, err, `SELECT 1 FROM conversations WHERE id = ?`, c.ID)
		if err != nil {
			return err
		}
	}

	c.Version++
	return nil
}

// Delete removes a conversation and its messages.
func (r *conversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return deleted("delete conversation", res, err)
}

// messageRepository implements repository.MessageRepository for SQLite.
// The (conversation_id, seq) unique index rejects a second writer that
// computed the same sequence number.
type messageRepository struct {
	db *DB
}

// NewMessageRepository creates a new SQLite message repository.
func NewMessageRepository(db *DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `id, conversation_id, seq, sender_id, content, sent_at, reply_to`

// Append stores a message.
func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Seq, msg.SenderID, msg.Content, formatTime(msg.SentAt), nullUUID(msg.ReplyTo))
	if err != nil {
		return writeErr("append message", err)
	}
	return nil
}

// Get retrieves a message by ID.
func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, readErr("get message", err)
	}
	return msg, nil
}

// Last returns the newest message of a conversation.
func (r *messageRepository) Last(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY seq DESC LIMIT 1`,
		conversationID,
	)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, readErr("get last message", err)
	}
	return msg, nil
}

// ListBefore returns messages with seq < beforeSeq, newest first.
func (r *messageRepository) ListBefore(ctx context.Context, conversationID uuid.UUID, beforeSeq int64, limit int) ([]*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if beforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, beforeSeq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return result, nil
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	msg := &domain.Message{}
	var sentAt string
	var replyTo sql.NullString

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Seq,
		&msg.SenderID,
		&msg.Content,
		&sentAt,
		&replyTo,
	)
	if err != nil {
		return nil, err
	}

	if msg.SentAt, err = parseTime(sentAt); err != nil {
		return nil, err
	}
	if msg.ReplyTo, err = parseNullUUID(replyTo); err != nil {
		return nil, err
	}
	return msg, nil
}
