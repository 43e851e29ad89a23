// Package memory provides in-memory repository implementations.
// This is suitable for tests and single-node development where no database is available.
// Data is NOT shared across process restarts or multiple instances.
package memory

import (
	"context"
	"sync"

	"github.com/prn-tf/agora/internal/repository"
)

// table is a versioned map guarded by a single mutex. Entities are cloned on
// the way in and out so callers never share mutable state with the store.
type table[K comparable, T any] struct {
	mu      sync.RWMutex
	rows    map[K]*T
	key     func(*T) K
	version func(*T) *int64
	clone   func(*T) *T
}

func newTable[K comparable, T any](key func(*T) K, version func(*T) *int64, clone func(*T) *T) *table[K, T] {
	return &table[K, T]{
		rows:    make(map[K]*T),
		key:     key,
		version: version,
		clone:   clone,
	}
}

// Get retrieves an entity by key.
func (t *table[K, T]) Get(ctx context.Context, key K) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	row, ok := t.rows[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return t.clone(row), nil
}

// Save inserts or conditionally updates an entity.
func (t *table[K, T]) Save(ctx context.Context, entity *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(entity); err != nil {
		return err
	}
	t.write(entity)
	return nil
}

// Delete removes an entity by key.
func (t *table[K, T]) Delete(ctx context.Context, key K) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rows[key]; !ok {
		return repository.ErrNotFound
	}
	delete(t.rows, key)
	return nil
}

// check verifies the optimistic-concurrency token. Caller holds mu.
func (t *table[K, T]) check(entity *T) error {
	expected := *t.version(entity)
	existing, exists := t.rows[t.key(entity)]

	if expected == 0 {
		if exists {
			return repository.ErrConflict
		}
		return nil
	}
	if !exists {
		return repository.ErrNotFound
	}
	if *t.version(existing) != expected {
		return repository.ErrConflict
	}
	return nil
}

// write bumps the version and stores a copy. Caller holds mu.
func (t *table[K, T]) write(entity *T) {
	*t.version(entity)++
	t.rows[t.key(entity)] = t.clone(entity)
}

// scan calls fn for every row under the read lock.
func (t *table[K, T]) scan(fn func(*T)) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, row := range t.rows {
		fn(row)
	}
}
