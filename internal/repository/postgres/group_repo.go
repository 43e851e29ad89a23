package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// groupRepository implements repository.GroupRepository.
type groupRepository struct {
	db *DB
}

// NewGroupRepository creates a new PostgreSQL group repository.
func NewGroupRepository(db *DB) repository.GroupRepository {
	return &groupRepository{db: db}
}

// Get retrieves a group by ID.
func (r *groupRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Group, error) {
	query := `
		SELECT id, name, privacy, created_by, created_at, version
		FROM groups
		WHERE id = $1
	`

	g := &domain.Group{}
	var privacy string

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&g.ID,
		&g.Name,
		&privacy,
		&g.CreatedBy,
		&g.CreatedAt,
		&g.Version,
	)
	if err != nil {
		return nil, readErr("get group", err)
	}

	g.Privacy = domain.GroupPrivacy(privacy)
	return g, nil
}

// Save inserts a group or updates it if its version still matches.
func (r *groupRepository) Save(ctx context.Context, g *domain.Group) error {
	if g.Version == 0 {
		_, err := r.db.Pool.Exec(ctx, `
			INSERT INTO groups (id, name, privacy, created_by, created_at, version)
			VALUES ($1, $2, $3, $4, $5, 1)
		`, g.ID, g.Name, string(g.Privacy), g.CreatedBy, g.CreatedAt)
		if err != nil {
			return writeErr("insert group", err)
		}
	} else {
		tag, err := r.db.Pool.Exec(ctx, `
			UPDATE groups
			SET name = $1, privacy = $2, version = version + 1
			WHERE id = $3 AND version = $4
		`, g.Name, string(g.Privacy), g.ID, g.Version)
		err = guarded(ctx, r.db.Pool, "update group", tag, err, `SELECT 1 FROM groups WHERE id = $1`, g.ID)
		if err != nil {
			return err
		}
	}

	g.Version++
	return nil
}

// Delete removes a group and, through the foreign key, its memberships.
func (r *groupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id)
	return deleted("delete group", tag, err)
}

// membershipRepository implements repository.MembershipRepository.
type membershipRepository struct {
	db *DB
}

// NewMembershipRepository creates a new PostgreSQL membership repository.
func NewMembershipRepository(db *DB) repository.MembershipRepository {
	return &membershipRepository{db: db}
}

const membershipColumns = `group_id, user_id, role, status, joined_at, updated_at, version`

// Get retrieves a membership by group and user.
func (r *membershipRepository) Get(ctx context.Context, key repository.MembershipKey) (*domain.Membership, error) {
	row := r.db.Pool.QueryRow(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE group_id = $1 AND user_id = $2`,
		key.GroupID, key.UserID,
	)
	m, err := scanMembership(row)
	if err != nil {
		return nil, readErr("get membership", err)
	}
	return m, nil
}

// Save inserts a membership or updates it if its version still matches.
func (r *membershipRepository) Save(ctx context.Context, m *domain.Membership) error {
	if err := saveMembership(ctx, r.db.Pool, m); err != nil {
		return err
	}
	m.Version++
	return nil
}

// SaveAll saves memberships in one transaction. Versions are bumped only
// after the commit succeeds.
func (r *membershipRepository) SaveAll(ctx context.Context, memberships ...*domain.Membership) error {
	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, m := range memberships {
			if err := saveMembership(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range memberships {
		m.Version++
	}
	return nil
}

// Delete removes a membership.
func (r *membershipRepository) Delete(ctx context.Context, key repository.MembershipKey) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM memberships WHERE group_id = $1 AND user_id = $2`, key.GroupID, key.UserID)
	return deleted("delete membership", tag, err)
}

// ListByGroup returns a group's memberships ordered by join time.
func (r *membershipRepository) ListByGroup(ctx context.Context, groupID uuid.UUID, status domain.MembershipStatus) ([]*domain.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE group_id = $1`
	args := []any{groupID}
	if status != domain.StatusNone {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY joined_at, user_id`

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var result []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memberships: %w", err)
	}

	return result, nil
}

func saveMembership(ctx context.Context, q Querier, m *domain.Membership) error {
	if m.Version == 0 {
		_, err := q.Exec(ctx, `
			INSERT INTO memberships (group_id, user_id, role, status, joined_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, 1)
		`, m.GroupID, m.UserID, string(m.Role), string(m.Status), m.JoinedAt, m.UpdatedAt)
		if err != nil {
			return writeErr("insert membership", err)
		}
		return nil
	}

	tag, err := q.Exec(ctx, `
		UPDATE memberships
		SET role = $1, status = $2, joined_at = $3, updated_at = $4, version = version + 1
		WHERE group_id = $5 AND user_id = $6 AND version = $7
	`, string(m.Role), string(m.Status), m.JoinedAt, m.UpdatedAt, m.GroupID, m.UserID, m.Version)
	return guarded(ctx, q, "update membership", tag, err,
		`SELECT 1 FROM memberships WHERE group_id = $1 AND user_id = $2`, m.GroupID, m.UserID)
}

func scanMembership(row pgx.Row) (*domain.Membership, error) {
	m := &domain.Membership{}
	var role, status string

	err := row.Scan(
		&m.GroupID,
		&m.UserID,
		&role,
		&status,
		&m.JoinedAt,
		&m.UpdatedAt,
		&m.Version,
	)
	if err != nil {
		return nil, err
	}

	m.Role = domain.GroupRole(role)
	m.Status = domain.MembershipStatus(status)
	return m, nil
}
