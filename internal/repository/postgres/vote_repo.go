package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// voteTargetRepository implements repository.VoteTargetRepository.
// The vote set is a JSONB column written together with the score.
type voteTargetRepository struct {
	db *DB
}

// NewVoteTargetRepository creates a new PostgreSQL vote target repository.
func NewVoteTargetRepository(db *DB) repository.VoteTargetRepository {
	return &voteTargetRepository{db: db}
}

// Get retrieves a target with its votes.
func (r *voteTargetRepository) Get(ctx context.Context, key domain.TargetKey) (*domain.VoteTarget, error) {
	query := `
		SELECT kind, id, owner_id, score, votes, version, created_at, updated_at
		FROM vote_targets
		WHERE kind = $1 AND id = $2
	`

	t := &domain.VoteTarget{}
	var kind string
	var votes []byte

	err := r.db.Pool.QueryRow(ctx, query, string(key.Kind), key.ID).Scan(
		&kind,
		&t.ID,
		&t.OwnerID,
		&t.Score,
		&votes,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, readErr("get vote target", err)
	}

	t.Kind = domain.TargetKind(kind)
	t.Votes = make(map[uuid.UUID]domain.VoteValue)
	if err := json.Unmarshal(votes, &t.Votes); err != nil {
		return nil, fmt.Errorf("failed to decode votes: %w", err)
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
		_, err = r.db.Pool.Exec(ctx, `
			INSERT INTO vote_targets (kind, id, owner_id, score, votes, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
		`, string(t.Kind), t.ID, t.OwnerID, t.Score, votes, t.CreatedAt, t.UpdatedAt)
		if err != nil {
			return writeErr("insert vote target", err)
		}
	} else {
		tag, err := r.db.Pool.Exec(ctx, `
			UPDATE vote_targets
			SET owner_id = $1, score = $2, votes = $3, version = version + 1, updated_at = $4
			WHERE kind = $5 AND id = $6 AND version = $7
		`, t.OwnerID, t.Score, votes, t.UpdatedAt, string(t.Kind), t.ID, t.Version)
		err = guarded(ctx, r.db.Pool, "update vote target", tag, err,
			`SELECT 1 FROM vote_targets WHERE kind = $1 AND id = $2`, string(t.Kind), t.ID)
		if err != nil {
			return err
		}
	}

	t.Version++
	return nil
}

// Delete removes a target and its votes.
func (r *voteTargetRepository) Delete(ctx context.Context, key domain.TargetKey) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM vote_targets WHERE kind = $1 AND id = $2`, string(key.Kind), key.ID)
	return deleted("delete vote target", tag, err)
}
