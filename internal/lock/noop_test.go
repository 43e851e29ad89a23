package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpLocker(t *testing.T) {
	l := NewNoOpLocker()
	ctx := context.Background()

	for range 2 {
		ok, err := l.Acquire(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "every acquire succeeds")
	}

	held, err := l.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.False(t, held)

	calls := 0
	err = WithLock(ctx, l, "k", DefaultOptions(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestNoOpLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewNoOpLocker().Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
