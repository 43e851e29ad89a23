package repository

import (
	"errors"
	"fmt"

	"github.com/prn-tf/agora/internal/domain"
)

// Repository errors. They match the domain taxonomy so services can pass
// them through unchanged.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = fmt.Errorf("entity %w", domain.ErrNotFound)

	// ErrConflict indicates an optimistic-concurrency check failed.
	ErrConflict = fmt.Errorf("stale write: %w", domain.ErrConflict)
)

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}
