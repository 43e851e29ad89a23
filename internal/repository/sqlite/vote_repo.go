package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// voteTargetRepository implements repository.VoteTargetRepository for SQLite.
// The vote set lives in a JSON column next to the score so both are written
// by one statement.
type voteTargetRepository struct {
	db *DB
}

// NewVoteTargetRepository creates a new SQLite vote target repository.
func NewVoteTargetRepository(db *DB) repository.VoteTargetRepository {
	return &voteTargetRepository{db: db}
}

// Get retrieves a target with its votes.
func (r *voteTargetRepository) Get(ctx context.Context, key domain.TargetKey) (*domain.VoteTarget, error) {
	query := `
		SELECT kind, id, owner_id, score, votes, version, created_at, updated_at
		FROM vote_targets
		WHERE kind = ? AND id = ?
	`

	t := &domain.VoteTarget{}
	var votes, createdAt, updatedAt string

	err := r.db.QueryRowContext(ctx, query, string(key.Kind), key.ID).Scan(
		&t.Kind,
		&t.ID,
		&t.OwnerID,
		&t.Score,
		&votes,
		&t.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, readErr("get vote target", err)
	}

	t.Votes = make(map[uuid.UUID]domain.VoteValue)
	if err := json.Unmarshal([]byte(votes), &t.Votes); err != nil {
		return nil, fmt.Errorf("failed to decode votes: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return t, nil
}

// Save inserts a target or updates it if its version still matches.
func (r *voteTargetRepository) Save(ctx context.Context, t *domain.VoteTarget) error {
	votes, err := json.Marshal(t.Votes)
	if err != nil {
		return fmt.Errorf("failed to encode votes: %w", err)
	}

	if t.Version == 0 {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO vote_targets (kind, id, owner_id, score, votes, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		`,
			string(t.Kind), t.ID, t.OwnerID, t.Score, string(votes),
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		)
		if err != nil {
			return writeErr("insert vote target", err)
		}
	} else {
		res, err := r.db.ExecContext(ctx, `
			UPDATE vote_targets
			SET owner_id = ?, score = ?, votes = ?, version = version + 1, updated_at = ?
			WHERE kind = ? AND id = ? AND version = ?
		`,
			t.OwnerID, t.Score, string(votes), formatTime(t.UpdatedAt),
			string(t.Kind), t.ID, t.Version,
		)
		err = guarded(ctx, r.db, "update vote target", res, err,
			`SELECT 1 FROM vote_targets WHERE kind = ? AND id = ?`, string(t.Kind), t.ID)
		if err != nil {
			return err
		}
	}

	t.Version++
	return nil
}

// Delete removes a target and its votes.
func (r *voteTargetRepository) Delete(ctx context.Context, key domain.TargetKey) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM vote_targets WHERE kind = ? AND id = ?`, string(key.Kind), key.ID)
	return deleted("delete vote target", res, err)
}
