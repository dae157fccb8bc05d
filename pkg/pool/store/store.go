// Package store defines the key-value contract backing the entropy pool and
// provides Redis and in-memory implementations.
//
// The pool only ever mutates the store through this contract; the atomic
// Claim primitive is the serialization point that makes at-most-once block
// delivery possible. Any store offering TTLs, counters, sets and an atomic
// claim can back the pool.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned when a key does not exist (or has expired).
	ErrNotFound = errors.New("store: key not found")

	// ErrClaimConflict is returned when a block has already been claimed
	// by a concurrent Take.
	ErrClaimConflict = errors.New("store: block already claimed")

	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store is the contract the entropy pool requires from its backing store.
// All operations must be safe for concurrent use.
type Store interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// SetWithTTL writes a value. A non-positive ttl means no expiry.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get reads a value, returning ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Exists reports whether a key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// TTL returns the remaining lifetime of a key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Keys lists keys matching a glob-style pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// IncrBy atomically adds delta to a counter key, creating it at zero.
	IncrBy(ctx context.Context, key string, delta int64) error

	// Counter reads a counter key, returning 0 when absent.
	Counter(ctx context.Context, key string) (int64, error)

	// IndexAdd, IndexRemove and IndexMembers maintain the auxiliary set of
	// live block ids used for O(1) candidate selection.
	IndexAdd(ctx context.Context, set, member string) error
	IndexRemove(ctx context.Context, set, member string) error
	IndexMembers(ctx context.Context, set string) ([]string, error)

	// Claim atomically consumes a block: it fails with ErrClaimConflict if
	// usedKey exists, fails with ErrNotFound if blockKey is gone, and
	// otherwise reads blockKey, writes usedKey with blockKey's remaining
	// TTL, deletes blockKey and removes member from the index set — all as
	// one atomic step. Two concurrent Claims can never both return the
	// same block.
	Claim(ctx context.Context, blockKey, usedKey, indexSet, member string, fallbackTTL time.Duration) ([]byte, error)

	// Close releases the backend connection.
	Close() error
}

// StoreError carries a backend error code alongside its cause.
type StoreError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	ErrCodeClaimConflict    = "CLAIM_CONFLICT"
)

// NewConnectionError wraps a connectivity failure so that errors.Is against
// ErrUnavailable holds.
func NewConnectionError(cause error) *StoreError {
	return &StoreError{
		Code:    ErrCodeConnectionFailed,
		Message: "store backend unreachable",
		Cause:   errors.Join(ErrUnavailable, cause),
	}
}
