// Package crypto provides one-time code generation and hashing for Agora.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCodeLength is the number of digits in a one-time code.
	DefaultCodeLength = 6

	// MinCodeLength is the shortest code accepted by configuration.
	MinCodeLength = 4

	// MaxCodeLength keeps codes within bcrypt's 72-byte input limit with room to spare.
	MaxCodeLength = 12
)

const digits = "0123456789"

// ErrInvalidCodeLength indicates a code length outside [MinCodeLength, MaxCodeLength].
var ErrInvalidCodeLength = errors.New("invalid one-time code length")

// GenerateNumericCode returns a uniformly random decimal code of the given length.
func GenerateNumericCode(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", fmt.Errorf("%w: %d", ErrInvalidCodeLength, length)
	}
	return generateRandomString(length, digits)
}

// generateRandomString draws each character from charset without modulo
// bias by rejecting bytes above the largest multiple of len(charset).
func generateRandomString(length int, charset string) (string, error) {
	result := make([]byte, 0, length)
	limit := 256 - (256 % len(charset))
	buf := make([]byte, length*2)

	for len(result) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			result = append(result, charset[int(b)%len(charset)])
			if len(result) == length {
				break
			}
		}
	}
	return string(result), nil
}

// CodeHasher hashes and compares one-time codes with bcrypt.
type CodeHasher struct {
	cost  int
	dummy []byte
}

// NewCodeHasher creates a hasher. cost 0 selects bcrypt.DefaultCost.
func NewCodeHasher(cost int) (*CodeHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("invalid bcrypt cost %d", cost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("agora-dummy-code"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &CodeHasher{cost: cost, dummy: dummy}, nil
}

// Hash returns the bcrypt hash of code.
func (h *CodeHasher) Hash(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash code: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether code matches hash. An empty hash is compared
// against a fixed dummy hash so the call costs the same either way.
func (h *CodeHasher) Compare(hash, code string) bool {
	target := h.dummy
	if hash != "" {
		target = []byte(hash)
	}
	match := bcrypt.CompareHashAndPassword(target, []byte(code)) == nil
	return match && hash != ""
}
