// Package store defines the durable tier used by tiercache.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// bytes previously passed to Put for the key. Durability is the store's
// concern; the cache treats every store error as advisory (reads become
// misses, writes are logged and dropped).
//
// Keys written by tiercache are prefixed "tc:<namespace>:". Foreign writes
// under that prefix are read as corrupt records and deleted.
package store

import (
	"context"
	"time"
)

// Meta describes the entry a value belongs to. Stores use CreatedAt for
// DeleteOlderThan and may use ExpiresAt as a retention hint.
type Meta struct {
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is a minimal byte store. Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// IO/remote errors return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte, meta Meta) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteOlderThan removes values whose Meta.CreatedAt is before cutoff
	// and reports how many were removed. Stores that expire on their own
	// may return (0, nil).
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Scanner is implemented by stores that can enumerate their keys.
// tiercache uses it to apply predicate invalidation to the durable tier.
type Scanner interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}
