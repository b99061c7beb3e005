package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ballot-backend/models"
)

var (
	// ErrAlreadyExists is returned by Persist when a ballot for the same
	// (addr, category_slug) is already stored.
	ErrAlreadyExists = errors.New("ballot already exists")
	ErrInvalidKey    = errors.New("invalid ballot key")
)

const maxKeyPartLen = 128

// BallotStore persists accepted ballots keyed by (addr, category_slug).
// Persist is an atomic create-if-absent and is the authoritative duplicate
// check; Exists is only an early-out.
type BallotStore interface {
	Exists(ctx context.Context, addr, category string) (bool, error)
	ListByAddress(ctx context.Context, addr string) ([]models.Vote, error)
	Persist(ctx context.Context, vote models.Vote) error
}

// StoreError wraps an I/O or serialization failure in a backend.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ballot store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ValidKeyPart reports whether s can be embedded in a storage key: non-empty,
// bounded, restricted to [A-Za-z0-9._:-] and never "." or "..".
func ValidKeyPart(s string) bool {
	if s == "" || len(s) > maxKeyPartLen || s == "." || s == ".." || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == ':' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ValidAddress is ValidKeyPart without '-', which separates the address from
// the category in record names and must stay unambiguous.
func ValidAddress(addr string) bool {
	return ValidKeyPart(addr) && !strings.Contains(addr, "-")
}

// KeyName is the record name for a natural key, e.g. "A1-2024".
func KeyName(addr, category string) string {
	return addr + "-" + category
}
