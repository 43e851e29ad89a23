package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/agora/internal/domain"
)

func TestMemoryLocker_AcquireRelease(t *testing.T) {
	ml := NewMemoryLocker()
	defer ml.Close()
	ctx := context.Background()

	ok, err := ml.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ml.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	held, err := ml.IsHeld(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held)

	released, err := ml.Release(ctx, "k")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = ml.Release(ctx, "k")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	ml := NewMemoryLocker()
	defer ml.Close()
	ctx := context.Background()

	now := time.Now()
	ml.now = func() time.Time { return now }

	ok, err := ml.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(2 * time.Second)

	extended, err := ml.Extend(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.False(t, extended, "expired lease cannot be extended")

	ok, err = ml.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")
}

func TestMemoryLocker_AcquireWithRetryHonorsContext(t *testing.T) {
	ml := NewMemoryLocker()
	defer ml.Close()

	_, err := ml.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	ok, err := ml.AcquireWithRetry(ctx, "k", time.Minute, 1000, 5*time.Millisecond)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLock_SerializesSameKey(t *testing.T) {
	ml := NewMemoryLocker()
	defer ml.Close()

	opts := Options{TTL: time.Second, MaxRetries: 500, RetryDelay: time.Millisecond}
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := WithLock(context.Background(), ml, "k", opts, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestWithLock_BusyIsConflict(t *testing.T) {
	ml := NewMemoryLocker()
	defer ml.Close()

	_, err := ml.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	err = WithLock(context.Background(), ml, "k", Options{TTL: time.Second}, func(ctx context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	ml := NewMemoryLocker()
	defer ml.Close()
	boom := errors.New("boom")

	err := WithLock(context.Background(), ml, "k", DefaultOptions(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	held, err := ml.IsHeld(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestWithLocks_AcquiresAllAndReleases(t *testing.T) {
	ml := NewMemoryLocker()
	defer ml.Close()
	ctx := context.Background()

	err := WithLocks(ctx, ml, []string{"b", "a", "b"}, DefaultOptions(), func(ctx context.Context) error {
		for _, k := range []string{"a", "b"} {
			held, err := ml.IsHeld(ctx, k)
			require.NoError(t, err)
			assert.True(t, held, k)
		}
		return nil
	})
	require.NoError(t, err)

	for _, k := range []string{"a", "b"} {
		held, err := ml.IsHeld(ctx, k)
		require.NoError(t, err)
		assert.False(t, held, k)
	}
}

func TestKeys(t *testing.T) {
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	other := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t, "lock:vote:post:"+id.String(), Keys.VoteTarget(domain.TargetKey{Kind: domain.TargetPost, ID: id}))
	assert.Equal(t, "lock:member:"+id.String()+":"+other.String(), Keys.Membership(id, other))
	assert.Equal(t, "lock:account:"+id.String(), Keys.Account(id))
	assert.NotEqual(t, Keys.Conversation(id), Keys.Report(id))
}
