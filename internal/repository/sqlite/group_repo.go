package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// groupRepository implements repository.GroupRepository for SQLite.
type groupRepository struct {
	db *DB
}

// NewGroupRepository creates a new SQLite group repository.
func NewGroupRepository(db *DB) repository.GroupRepository {
	return &groupRepository{db: db}
}

// Get retrieves a group by ID.
func (r *groupRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Group, error) {
	query := `
		SELECT id, name, privacy, created_by, created_at, version
		FROM groups
		WHERE id = ?
	`

	g := &domain.Group{}
	var createdAt string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&g.ID,
		&g.Name,
		&g.Privacy,
		&g.CreatedBy,
		&createdAt,
		&g.Version,
	)
	if err != nil {
		return nil, readErr("get group", err)
	}

	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return g, nil
}

// Save inserts a group or updates it if its version still matches.
func (r *groupRepository) Save(ctx context.Context, g *domain.Group) error {
	if g.Version == 0 {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO groups (id, name, privacy, created_by, created_at, version)
			VALUES (?, ?, ?, ?, ?, 1)
		`, g.ID, g.Name, string(g.Privacy), g.CreatedBy, formatTime(g.CreatedAt))
		if err != nil {
			return writeErr("insert group", err)
		}
	} else {
		res, err := r.db.ExecContext(ctx, `
			UPDATE groups
			SET name = ?, privacy = ?, version = version + 1
			WHERE id = ? AND version = ?
		`, g.Name, string(g.Privacy), g.ID, g.Version)
		err = guarded(ctx, r.db, "update group", res, err, `SELECT 1 FROM groups WHERE id = ?`, g.ID)
		if err != nil {
			return err
		}
	}

	g.Version++
	return nil
}

// Delete removes a group and, through the foreign key, its memberships.
func (r *groupRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	return deleted("delete group", res, err)
}

// membershipRepository implements repository.MembershipRepository for SQLite.
type membershipRepository struct {
	db *DB
}

// NewMembershipRepository creates a new SQLite membership repository.
func NewMembershipRepository(db *DB) repository.MembershipRepository {
	return &membershipRepository{db: db}
}

const membershipColumns = `group_id, user_id, role, status, joined_at, updated_at, version`

// Get retrieves a membership by group and user.
func (r *membershipRepository) Get(ctx context.Context, key repository.MembershipKey) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE group_id = ? AND user_id = ?`,
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
	if err := saveMembership(ctx, r.db, m); err != nil {
		return err
	}
	m.Version++
	return nil
}

// SaveAll saves memberships in one transaction. Versions are bumped only
// after the commit succeeds.
func (r *membershipRepository) SaveAll(ctx context.Context, memberships ...*domain.Membership) error {
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
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
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE group_id = ? AND user_id = ?`, key.GroupID, key.UserID)
	return deleted("delete membership", res, err)
}

// ListByGroup returns a group's memberships ordered by join time.
func (r *membershipRepository) ListByGroup(ctx context.Context, groupID uuid.UUID, status domain.MembershipStatus) ([]*domain.Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE group_id = ?`
	args := []any{groupID}
	if status != domain.StatusNone {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY joined_at, user_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
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

func saveMembership(ctx context.Context, q querier, m *domain.Membership) error {
	if m.Version == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO memberships (group_id, user_id, role, status, joined_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, 1)
		`, m.GroupID, m.UserID, string(m.Role), string(m.Status), formatTime(m.JoinedAt), formatTime(m.UpdatedAt))
		if err != nil {
			return writeErr("insert membership", err)
		}
		return nil
	}

	res, err := q.ExecContext(ctx, `
		UPDATE memberships
		SET role = ?, status = ?, joined_at = ?, updated_at = ?, version = version + 1
		WHERE group_id = ? AND user_id = ? AND version = ?
	`, string(m.Role), string(m.Status), formatTime(m.JoinedAt), formatTime(m.UpdatedAt), m.GroupID, m.UserID, m.Version)
	return guarded(ctx, q, "update membership", res, err,
		`SELECT 1 FROM memberships WHERE group_id = ? AND user_id = ?`, m.GroupID, m.UserID)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (*domain.Membership, error) {
	m := &domain.Membership{}
	var joinedAt, updatedAt string

	err := row.Scan(
		&m.GroupID,
		&m.UserID,
		&m.Role,
		&m.Status,
		&joinedAt,
		&updatedAt,
		&m.Version,
	)
	if err != nil {
		return nil, err
	}

	if m.JoinedAt, err = parseTime(joinedAt); err != nil {
		return nil, err
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return m, nil
}
