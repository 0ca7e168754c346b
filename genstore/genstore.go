// Package genstore tracks a generation counter per cache key.
//
// The cache snapshots a key's generation before a remote fetch and bumps it on
// invalidation; a write carrying an older generation is discarded. This keeps
// a fetch that started before Invalidate from repopulating the key after it.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
//
// Snapshot is called while the cache holds its hot-tier lock, so it must not
// block or perform I/O.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, key string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, key string) (uint64, error)
	// Cleanup forgets generations last bumped before cutoff.
	Cleanup(cutoff time.Time) int
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
