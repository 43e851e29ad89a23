package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prn-tf/agora/internal/repository"
)

// PostgreSQL SQLSTATE codes the repositories translate.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// readErr maps a read failure onto the repository taxonomy.
func readErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// writeErr maps a write failure onto the repository taxonomy.
func writeErr(op string, err error) error {
	switch pgCode(err) {
	case codeUniqueViolation:
		return fmt.Errorf("%s: %w", op, repository.ErrConflict)
	case codeForeignKeyViolation:
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// guarded interprets the result of a version-checked UPDATE. When no row
// matched, probe decides between a missing row and a stale version.
func guarded(ctx context.Context, q Querier, op string, tag pgconn.CommandTag, err error, probe string, args ...any) error {
	if err != nil {
		return writeErr(op, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var one int
	if err := q.QueryRow(ctx, probe, args...).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return repository.ErrConflict
}

// deleted interprets the result of a DELETE by key.
func deleted(op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return writeErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
