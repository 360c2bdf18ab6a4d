// Package kvstore defines the TTL key-value abstraction shared by the decision
// cache and the hold store. An in-process map backend serves tests and
// single-node runs; a Redis backend serves multi-instance deployments.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidKey is returned for empty keys.
var ErrInvalidKey = errors.New("kvstore: key must not be empty")

// Store is a minimal key-value store with per-key expiry.
//
// A key whose TTL has elapsed behaves exactly like an absent key; callers
// never observe expired values. TTL zero means no expiry.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, overwriting any previous value.
	// A positive ttl bounds the entry's lifetime.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key that starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
