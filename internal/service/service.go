// Package service implements the Agora state machines: voting, group
// membership, moderation, conversations and authentication security state.
//
// Every mutating operation follows the same shape: validate, load, authorize,
// apply the transition in memory, then save with a version check while
// holding the aggregate's lock. A conflicting save is retried a bounded
// number of times; side effects (notifications, sanctions, archival) run only
// after the commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/metrics"
	"github.com/prn-tf/agora/internal/notify"
	"github.com/prn-tf/agora/internal/repository"
)

// Runtime holds the collaborators every service shares.
type Runtime struct {
	Locker   lock.Locker
	LockOpts lock.Options

	// ConflictRetries bounds how often a conflicting write is retried.
	ConflictRetries int

	Notifier notify.Notifier
	Metrics  *metrics.Metrics

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultRuntime returns a runtime with an in-memory locker and no notifications.
func DefaultRuntime() Runtime {
	return Runtime{
		Locker:          lock.NewMemoryLocker(),
		LockOpts:        lock.DefaultOptions(),
		ConflictRetries: 3,
		Notifier:        notify.Discard{},
		Now:             time.Now,
	}
}

func (r Runtime) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func (r Runtime) publish(n notify.Notification) {
	if r.Notifier == nil {
		return
	}
	r.Notifier.Publish(n)
}

// mutate runs fn under the lock for key and retries it on conflict. fn must
// reload everything it writes on each attempt.
func (r Runtime) mutate(ctx context.Context, logger zerolog.Logger, op string, keys []string, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := lock.WithLocks(ctx, r.Locker, keys, r.LockOpts, fn)
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if attempt >= r.ConflictRetries {
			logger.Warn().Err(err).Str("operation", op).Int("attempts", attempt+1).Msg("Conflict retries exhausted")
			return err
		}

		r.Metrics.RecordConflictRetry(op)
		logger.Debug().Err(err).Str("operation", op).Int("attempt", attempt+1).Msg("Retrying after conflict")
	}
}

// storeErr passes through errors the taxonomy already classifies and marks
// anything else from a repository as a dependency failure.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrDependencyFailure):
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrDependencyFailure, err)
}

// notFound converts a repository not-found into the entity's own sentinel.
func notFound(err error, specific error) error {
	if repository.IsNotFound(err) {
		return specific
	}
	return storeErr(err)
}

// beforeCommit aborts a mutation whose context ended while it was being computed.
func beforeCommit(ctx context.Context) error {
	return ctx.Err()
}
