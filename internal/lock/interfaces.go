// Package lock provides per-key leases: in process for a single node,
// Redis-backed when several cores share one store.
//
// Locks serialize writers of one aggregate (a vote target, a membership, a
// conversation, an account). They are a fast path only: every save is still
// version checked, so an expired lease degrades to a retryable conflict
// rather than a lost update.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/prn-tf/agora/internal/domain"
)

// ErrNotAcquired indicates the lock stayed busy for every retry. It matches
// domain.ErrConflict so callers treat it as retryable contention.
var ErrNotAcquired = fmt.Errorf("lock not acquired: %w", domain.ErrConflict)

// Locker hands out leases on string keys. Services only see this interface;
// the backend is chosen by lock.backend.
type Locker interface {
	// Acquire attempts to acquire a lock.
	// Returns true if the lock was acquired, false if it's held by another holder.
	// The lock will automatically expire after the specified TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// AcquireWithRetry attempts to acquire a lock with retries.
	// Will retry up to maxRetries times with retryDelay between attempts.
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error)

	// Release releases a lock held by this locker.
	// Returns true if the lock was released, false if it wasn't held.
	Release(ctx context.Context, key string) (bool, error)

	// Extend extends the TTL of a held lock.
	// Returns true if the lock was extended, false if it's not held.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// IsHeld checks if the lock is currently held by anyone.
	IsHeld(ctx context.Context, key string) (bool, error)
}

// Options controls how WithLock acquires a key.
type Options struct {
	// TTL is the lease duration.
	TTL time.Duration

	// MaxRetries is the number of extra acquisition attempts.
	MaxRetries int

	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// DefaultOptions returns a 10s lease with 50 retries 20ms apart.
func DefaultOptions() Options {
	return Options{
		TTL:        10 * time.Second,
		MaxRetries: 50,
		RetryDelay: 20 * time.Millisecond,
	}
}

// WithLock runs fn while holding key. The lock is released even if ctx is
// cancelled while fn runs.
func WithLock(ctx context.Context, locker Locker, key string, opts Options, fn func(ctx context.Context) error) error {
	acquired, err := locker.AcquireWithRetry(ctx, key, opts.TTL, opts.MaxRetries, opts.RetryDelay)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: acquire %s: %v", domain.ErrDependencyFailure, key, err)
	}
	if !acquired {
		return fmt.Errorf("%w (%s)", ErrNotAcquired, key)
	}
	defer func() {
		_, _ = locker.Release(context.WithoutCancel(ctx), key)
	}()
	return fn(ctx)
}

// WithLocks runs fn while holding every key. Keys are acquired in sorted
// order so two callers locking the same pair cannot deadlock.
func WithLocks(ctx context.Context, locker Locker, keys []string, opts Options, fn func(ctx context.Context) error) error {
	sorted := sortedUnique(keys)
	var run func(i int, ctx context.Context) error
	run = func(i int, ctx context.Context) error {
		if i == len(sorted) {
			return fn(ctx)
		}
		return WithLock(ctx, locker, sorted[i], opts, func(ctx context.Context) error {
			return run(i+1, ctx)
		})
	}
	return run(0, ctx)
}

func sortedUnique(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// =============================================================================
// Common Lock Keys
// =============================================================================

// Keys provides lock key generation for the core's aggregates.
var Keys = lockKeys{}

type lockKeys struct{}

// VoteTarget returns the lock key serializing votes on one target.
func (lockKeys) VoteTarget(key domain.TargetKey) string {
	return "lock:vote:" + string(key.Kind) + ":" + key.ID.String()
}

// Membership returns the lock key for one (group, user) membership.
func (lockKeys) Membership(groupID, userID uuid.UUID) string {
	return "lock:member:" + groupID.String() + ":" + userID.String()
}

// Report returns the lock key for one moderation report.
func (lockKeys) Report(reportID uuid.UUID) string {
	return "lock:report:" + reportID.String()
}

// Conversation returns the lock key sequencing one conversation's messages.
func (lockKeys) Conversation(conversationID uuid.UUID) string {
	return "lock:conversation:" + conversationID.String()
}

// Account returns the lock key for one user's authentication state.
func (lockKeys) Account(userID uuid.UUID) string {
	return "lock:account:" + userID.String()
}

// OTPSweep returns the lock key for the expired code sweeper.
func (lockKeys) OTPSweep() string {
	return "lock:sweep:otp"
}
