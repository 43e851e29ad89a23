package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// accountRepository implements repository.AccountRepository. One-time codes
// live in account_otps so the sweeper can purge them without touching the
// account row or its version.
type accountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository.
func NewAccountRepository(db *DB) repository.AccountRepository {
	return &accountRepository{db: db}
}

// Get retrieves an account with its one-time codes.
func (r *accountRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT user_id, failed_attempts, lockout_until, lockout_count, two_factor_enabled,
			linked_providers, suspended_until, banned, updated_at, version
		FROM accounts
		WHERE user_id = $1
	`

	a := &domain.Account{}
	var providers []byte

	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&a.UserID,
		&a.FailedAttempts,
		&a.LockoutUntil,
		&a.LockoutCount,
		&a.TwoFactorEnabled,
		&providers,
		&a.SuspendedUntil,
		&a.Banned,
		&a.UpdatedAt,
		&a.Version,
	)
	if err != nil {
		return nil, readErr("get account", err)
	}

	a.LinkedProviders = make(map[string]string)
	if err := json.Unmarshal(providers, &a.LinkedProviders); err != nil {
		return nil, fmt.Errorf("failed to decode linked providers: %w", err)
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT purpose, code_hash, issued_at, expires_at, consumed_at, attempts
		FROM account_otps
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load one-time codes: %w", err)
	}
	defer rows.Close()

	a.OTPs = make(map[domain.OTPPurpose]*domain.OTP)
	for rows.Next() {
		otp := &domain.OTP{}
		var purpose string
		if err := rows.Scan(&purpose, &otp.CodeHash, &otp.IssuedAt, &otp.ExpiresAt, &otp.ConsumedAt, &otp.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan one-time code: %w", err)
		}
		otp.Purpose = domain.OTPPurpose(purpose)
		a.OTPs[otp.Purpose] = otp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate one-time codes: %w", err)
	}

	return a, nil
}

// Save writes the account row and replaces its one-time codes in one transaction.
func (r *accountRepository) Save(ctx context.Context, a *domain.Account) error {
	providers, err := json.Marshal(a.LinkedProviders)
	if err != nil {
		return fmt.Errorf("failed to encode linked providers: %w", err)
	}

	err = r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if a.Version == 0 {
			_, err := tx.Exec(ctx, `
				INSERT INTO accounts (user_id, failed_attempts, lockout_until, lockout_count, two_factor_enabled,
					linked_providers, suspended_until, banned, updated_at, version)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
			`,
				a.UserID, a.FailedAttempts, a.LockoutUntil, a.LockoutCount, a.TwoFactorEnabled,
				providers, a.SuspendedUntil, a.Banned, a.UpdatedAt,
			)
			if err != nil {
				return writeErr("insert account", err)
			}
		} else {
			tag, err := tx.Exec(ctx, `
				UPDATE accounts
				SET failed_attempts = $1, lockout_until = $2, lockout_count = $3, two_factor_enabled = $4,
					linked_providers = $5, suspended_until = $6, banned = $7, updated_at = $8, version = version + 1
				WHERE user_id = $9 AND version = $10
			`,
				a.FailedAttempts, a.LockoutUntil, a.LockoutCount, a.TwoFactorEnabled,
				providers, a.SuspendedUntil, a.Banned, a.UpdatedAt,
				a.UserID, a.Version,
			)
			err = guarded(ctx, tx, "update account", tag, err, `SELECT 1 FROM accounts WHERE user_id = $1`, a.UserID)
			if err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM account_otps WHERE user_id = $1`, a.UserID); err != nil {
			return fmt.Errorf("failed to clear one-time codes: %w", err)
		}

		batch := &pgx.Batch{}
		for _, otp := range a.OTPs {
			batch.Queue(`
				INSERT INTO account_otps (user_id, purpose, code_hash, issued_at, expires_at, consumed_at, attempts)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, a.UserID, string(otp.Purpose), otp.CodeHash, otp.IssuedAt, otp.ExpiresAt, otp.ConsumedAt, otp.Attempts)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return writeErr("insert one-time codes", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.Version++
	return nil
}

// Delete removes an account and its codes.
func (r *accountRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM accounts WHERE user_id = $1`, userID)
	return deleted("delete account", tag, err)
}

// PurgeOTPs deletes consumed or expired codes older than the cutoff.
func (r *accountRepository) PurgeOTPs(ctx context.Context, before time.Time, limit int) (int64, error) {
	var bound any
	if limit > 0 {
		bound = limit
	}

	tag, err := r.db.Pool.Exec(ctx, `
		DELETE FROM account_otps
		WHERE (user_id, purpose) IN (
			SELECT user_id, purpose FROM account_otps
			WHERE (consumed_at IS NOT NULL AND consumed_at < $1) OR expires_at < $1
			LIMIT $2
		)
	`, before, bound)
	if err != nil {
		return 0, fmt.Errorf("failed to purge one-time codes: %w", err)
	}
	return tag.RowsAffected(), nil
}
