package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/repository"
)

// accountRepository implements repository.AccountRepository for SQLite.
// One-time codes live in account_otps so the sweeper can purge them without
// touching the account row or its version.
type accountRepository struct {
	db *DB
}

// NewAccountRepository creates a new SQLite account repository.
func NewAccountRepository(db *DB) repository.AccountRepository {
	return &accountRepository{db: db}
}

// Get retrieves an account with its one-time codes.
func (r *accountRepository) Get(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	query := `
		SELECT user_id, failed_attempts, lockout_until, lockout_count, two_factor_enabled,
			linked_providers, suspended_until, banned, updated_at, version
		FROM accounts
		WHERE user_id = ?
	`

	a := &domain.Account{}
	var lockoutUntil, suspendedUntil sql.NullString
	var twoFactor, banned int
	var providers, updatedAt string

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&a.UserID,
		&a.FailedAttempts,
		&lockoutUntil,
		&a.LockoutCount,
		&twoFactor,
		&providers,
		&suspendedUntil,
		&banned,
		&updatedAt,
		&a.Version,
	)
	if err != nil {
		return nil, readErr("get account", err)
	}

	a.TwoFactorEnabled = twoFactor != 0
	a.Banned = banned != 0
	a.LinkedProviders = make(map[string]string)
	if err := json.Unmarshal([]byte(providers), &a.LinkedProviders); err != nil {
		return nil, fmt.Errorf("failed to decode linked providers: %w", err)
	}
	if a.LockoutUntil, err = parseNullTime(lockoutUntil); err != nil {
		return nil, err
	}
	if a.SuspendedUntil, err = parseNullTime(suspendedUntil); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	if a.OTPs, err = r.loadOTPs(ctx, userID); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *accountRepository) loadOTPs(ctx context.Context, userID uuid.UUID) (map[domain.OTPPurpose]*domain.OTP, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT purpose, code_hash, issued_at, expires_at, consumed_at, attempts
		FROM account_otps
		WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load one-time codes: %w", err)
	}
	defer rows.Close()

	otps := make(map[domain.OTPPurpose]*domain.OTP)
	for rows.Next() {
		otp := &domain.OTP{}
		var issuedAt, expiresAt string
		var consumedAt sql.NullString

		if err := rows.Scan(&otp.Purpose, &otp.CodeHash, &issuedAt, &expiresAt, &consumedAt, &otp.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan one-time code: %w", err)
		}
		if otp.IssuedAt, err = parseTime(issuedAt); err != nil {
			return nil, err
		}
		if otp.ExpiresAt, err = parseTime(expiresAt); err != nil {
			return nil, err
		}
		if otp.ConsumedAt, err = parseNullTime(consumedAt); err != nil {
			return nil, err
		}
		otps[otp.Purpose] = otp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate one-time codes: %w", err)
	}
	return otps, nil
}

// Save writes the account row and replaces its one-time codes in one transaction.
func (r *accountRepository) Save(ctx context.Context, a *domain.Account) error {
	providers, err := json.Marshal(a.LinkedProviders)
	if err != nil {
		return fmt.Errorf("failed to encode linked providers: %w", err)
	}

	err = r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if a.Version == 0 {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO accounts (user_id, failed_attempts, lockout_until, lockout_count, two_factor_enabled,
					linked_providers, suspended_until, banned, updated_at, version)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
			`,
				a.UserID, a.FailedAttempts, nullTime(a.LockoutUntil), a.LockoutCount, boolToInt(a.TwoFactorEnabled),
				string(providers), nullTime(a.SuspendedUntil), boolToInt(a.Banned), formatTime(a.UpdatedAt),
			)
			if err != nil {
				return writeErr("insert account", err)
			}
		} else {
			res, err := tx.ExecContext(ctx, `
				UPDATE accounts
				SET failed_attempts = ?, lockout_until = ?, lockout_count = ?, two_factor_enabled = ?,
					linked_providers = ?, suspended_until = ?, banned = ?, updated_at = ?, version = version + 1
				WHERE user_id = ? AND version = ?
			`,
				a.FailedAttempts, nullTime(a.LockoutUntil), a.LockoutCount, boolToInt(a.TwoFactorEnabled),
				string(providers), nullTime(a.SuspendedUntil), boolToInt(a.Banned), formatTime(a.UpdatedAt),
				a.UserID, a.Version,
			)
			err = guarded(ctx, tx, "update account", res, err, `SELECT 1 FROM accounts WHERE user_id = ?`, a.UserID)
			if err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM account_otps WHERE user_id = ?`, a.UserID); err != nil {
			return fmt.Errorf("failed to clear one-time codes: %w", err)
		}
		for _, otp := range a.OTPs {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO account_otps (user_id, purpose, code_hash, issued_at, expires_at, consumed_at, attempts)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				a.UserID, string(otp.Purpose), otp.CodeHash, formatTime(otp.IssuedAt), formatTime(otp.ExpiresAt),
				nullTime(otp.ConsumedAt), otp.Attempts,
			)
			if err != nil {
				return writeErr("insert one-time code", err)
			}
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
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE user_id = ?`, userID)
	return deleted("delete account", res, err)
}

// PurgeOTPs deletes consumed or expired codes older than the cutoff.
func (r *accountRepository) PurgeOTPs(ctx context.Context, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = -1 // SQLite treats a negative LIMIT as unbounded
	}
	cutoff := formatTime(before)

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM account_otps
		WHERE rowid IN (
			SELECT rowid FROM account_otps
			WHERE (consumed_at IS NOT NULL AND consumed_at < ?) OR expires_at < ?
			LIMIT ?
		)
	`, cutoff, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to purge one-time codes: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to purge one-time codes: %w", err)
	}
	return n, nil
}
