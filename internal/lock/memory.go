package lock

import (
	"context"
	"sync"
	"time"
)

// janitorInterval is how often abandoned leases are dropped from the map.
const janitorInterval = 30 * time.Second

// MemoryLocker keeps leases in process. It serializes writers within one
// core only; run the redis backend when several cores share a store.
type MemoryLocker struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMemoryLocker creates a MemoryLocker and starts its janitor. Call Close
// to stop it.
func NewMemoryLocker() *MemoryLocker {
	m := &MemoryLocker{
		expires: make(map[string]time.Time),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Close stops the janitor. Held leases stay valid until they expire.
func (m *MemoryLocker) Close() error {
	m.stopOnce.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryLocker) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			now := m.now()
			for key := range m.expires {
				m.liveLocked(key, now)
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

// liveLocked reports whether key holds an unexpired lease, dropping it if
// expired. m.mu must be held.
func (m *MemoryLocker) liveLocked(key string, now time.Time) bool {
	until, ok := m.expires[key]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(m.expires, key)
		return false
	}
	return true
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.liveLocked(key, now) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	return acquireWithRetry(ctx, m, key, ttl, maxRetries, retryDelay)
}

// Release drops the lease. It reports false when nothing was held.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.expires[key]
	delete(m.expires, key)
	return ok, nil
}

// Extend pushes an unexpired lease out to now+ttl.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.liveLocked(key, now) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

func (m *MemoryLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(key, m.now()), nil
}

// acquireWithRetry polls Acquire until it succeeds, retries run out or ctx
// ends. The last attempt does not sleep.
func acquireWithRetry(ctx context.Context, l Locker, key string, ttl time.Duration, maxRetries int, retryDelay time.Duration) (bool, error) {
	for attempt := 0; ; attempt++ {
		acquired, err := l.Acquire(ctx, key, ttl)
		if err != nil || acquired {
			return acquired, err
		}
		if attempt >= maxRetries {
			return false, nil
		}

		timer := time.NewTimer(retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
}

var _ Locker = (*MemoryLocker)(nil)
