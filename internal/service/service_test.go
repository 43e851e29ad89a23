package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
	"github.com/prn-tf/agora/internal/lock"
	"github.com/prn-tf/agora/internal/metrics"
	"github.com/prn-tf/agora/internal/notify"
)

var nopLogger = zerolog.Nop()

// recorder is a synchronous Notifier that keeps everything published.
type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Publish(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recorder) ofType(typ string) []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Notification
	for _, n := range r.sent {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) last(typ string) (notify.Notification, bool) {
	all := r.ofType(typ)
	if len(all) == 0 {
		return notify.Notification{}, false
	}
	return all[len(all)-1], true
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	rt      Runtime
	notes   *recorder
	clock   *clock
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	locker := lock.NewMemoryLocker()
	t.Cleanup(func() { _ = locker.Close() })

	notes := &recorder{}
	clk := newClock()
	m := metrics.New(prometheus.NewRegistry())

	return &testEnv{
		rt: Runtime{
			Locker:          locker,
			LockOpts:        lock.Options{TTL: 5 * time.Second, MaxRetries: 500, RetryDelay: time.Millisecond},
			ConflictRetries: 3,
			Notifier:        notes,
			Metrics:         m,
			Now:             clk.Now,
		},
		notes:   notes,
		clock:   clk,
		metrics: m,
	}
}

func user(roles ...domain.Role) domain.Principal {
	if len(roles) == 0 {
		roles = []domain.Role{domain.RoleUser}
	}
	return domain.NewPrincipal(uuid.New(), roles...)
}

func assertDenied(t *testing.T, err error, reason domain.DenyReason) {
	t.Helper()
	require.ErrorIs(t, err, domain.ErrAuthorizationDenied)
	got, ok := domain.DenyReasonOf(err)
	require.True(t, ok, "expected an AccessDeniedError, got %v", err)
	assert.Equal(t, reason, got)
}

func TestRuntime_MutateRetriesConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	calls := 0
	err := env.rt.mutate(ctx, nopLogger, "test", []string{"k"}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRuntime_MutateGivesUpAfterRetries(t *testing.T) {
	env := newTestEnv(t)
	env.rt.ConflictRetries = 2

	calls := 0
	err := env.rt.mutate(context.Background(), nopLogger, "test", []string{"k"}, func(ctx context.Context) error {
		calls++
		return domain.ErrConflict
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 3, calls)
}

func TestRuntime_MutateDoesNotRetryOtherErrors(t *testing.T) {
	env := newTestEnv(t)

	calls := 0
	err := env.rt.mutate(context.Background(), nopLogger, "test", []string{"k"}, func(ctx context.Context) error {
		calls++
		return domain.ErrInvalidTransition
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, calls)
}

func TestRuntime_MutateHonoursCancellation(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.rt.mutate(ctx, nopLogger, "test", []string{"k"}, func(ctx context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStoreErr(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"canceled", context.Canceled, context.Canceled},
		{"not found", domain.ErrNotFound, domain.ErrNotFound},
		{"conflict", domain.ErrConflict, domain.ErrConflict},
		{"driver error", boom, domain.ErrDependencyFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storeErr(tt.in)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}
