package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// conversationRepository implements repository.ConversationRepository.
type conversationRepository struct {
	db *DB
}

// NewConversationRepository creates a new PostgreSQL conversation repository.
func NewConversationRepository(db *DB) repository.ConversationRepository {
	return &conversationRepository{db: db}
}

// Get retrieves a conversation with its participants.
func (r *conversationRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT id, type, title, creator_id, participants, created_at, version
		FROM conversations
		WHERE id = $1
	`

	c := &domain.Conversation{}
	var convType string
	var participants []byte

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&convType,
		&c.Title,
		&c.CreatorID,
		&participants,
		&c.CreatedAt,
		&c.Version,
	)
	if err != nil {
		return nil, readErr("get conversation", err)
	}

	c.Type = domain.ConversationType(convType)
	c.Participants = make(map[uuid.UUID]domain.Participant)
	if err := json.Unmarshal(participants, &c.Participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants: %w", err)
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
		_, err = r.db.Pool.Exec(ctx, `
			INSERT INTO conversations (id, type, title, creator_id, participants, created_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, 1)
		`, c.ID, string(c.Type), c.Title, c.CreatorID, participants, c.CreatedAt)
		if err != nil {
			return writeErr("insert conversation", err)
		}
	} else {
		tag, err := r.db.Pool.Exec(ctx, `
			UPDATE conversations
			SET title = $1, participants = $2, version = version + 1
			WHERE id = $3 AND version = $4
		`, c.Title, participants, c.ID, c.Version)
		err = guarded(ctx, r.db.Pool, "update conversation", tag, err, `SELECT 1 FROM conversations WHERE id = $1`, c.ID)
		if err != nil {
			return err
		}
	}

	c.Version++
	return nil
}

// Delete removes a conversation and its messages.
func (r *conversationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	return deleted("delete conversation", tag, err)
}

// messageRepository implements repository.MessageRepository. The
// (conversation_id, seq) unique constraint rejects a second writer that
// computed the same sequence number.
type messageRepository struct {
	db *DB
}

// NewMessageRepository creates a new PostgreSQL message repository.
func NewMessageRepository(db *DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

const messageColumns = `id, conversation_id, seq, sender_id, content, sent_at, reply_to`

// Append stores a message.
func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, msg.Seq, msg.SenderID, msg.Content, msg.SentAt, msg.ReplyTo)
	if err != nil {
		return writeErr("append message", err)
	}
	return nil
}

// Get retrieves a message by ID.
func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, readErr("get message", err)
	}
	return msg, nil
}

// Last returns the newest message of a conversation.
func (r *messageRepository) Last(ctx context.Context, conversationID uuid.UUID) (*domain.Message, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id = $1 ORDER BY seq DESC LIMIT 1`,
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
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1 AND ($2 <= 0 OR seq < $2)
		ORDER BY seq DESC
		LIMIT $3
	`, conversationID, beforeSeq, limit)
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

func scanMessage(row pgx.Row) (*domain.Message, error) {
	msg := &domain.Message{}
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Seq,
		&msg.SenderID,
		&msg.Content,
		&msg.SentAt,
		&msg.ReplyTo,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}
