package tiercache

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/store"
)

// Trimmable is what the Coordinator needs from a cache.
type Trimmable interface {
	Namespace() string
	// Shrink lowers the effective capacity to ratio of the configured one
	// (never below 1) and evicts LRU entries past it. Returns evictions.
	Shrink(ratio float64) int
	// Restore returns to the configured capacity.
	Restore()
	// Compact deletes durable records created before cutoff.
	Compact(ctx context.Context, cutoff time.Time) (int, error)
}

// Cache is a two-tier cache: a bounded LRU hot tier backed by a store.Store.
// V is the caller's value type; the durable tier serializes it with a Codec[V].
type Cache[V any] interface {
	Trimmable

	Enabled() bool
	Close(context.Context) error

	// Get consults the hot tier, then the durable tier. It never fails:
	// durable errors and corrupt records read as Miss.
	Get(ctx context.Context, key string) Lookup[V]
	// Contains reports whether Get would hit, without touching recency.
	Contains(ctx context.Context, key string) bool

	// Put stores a remote value; ttl 0 => DefaultTTL.
	Put(ctx context.Context, key string, value V, ttl time.Duration)
	// PutFallback stores a locally produced value in the hot tier only.
	PutFallback(ctx context.Context, key string, value V)

	// Generation snapshots (for fetch/invalidate races)
	SnapshotGen(key string) Gen
	PutWithGen(ctx context.Context, key string, value V, ttl time.Duration, gen Gen) bool

	Invalidate(ctx context.Context, key string) error
	// InvalidateAll removes every key match reports true for; nil matches all.
	InvalidateAll(ctx context.Context, match func(key string) bool) error

	// Flush waits until every write queued so far reached the durable tier.
	Flush(ctx context.Context) error
	// Check round-trips a probe record through the durable tier.
	Check(ctx context.Context) error

	Len() int
	Stats() Stats
}

// Durability selects what happens to writes the worker has not applied yet.
type Durability uint8

const (
	// DurabilityAdvisory: a full queue drops the write. An evicted entry
	// whose queued write has not run yet is still written by the worker;
	// only dropped writes are lost once the entry leaves the hot tier.
	DurabilityAdvisory Durability = iota
	// DurabilityFlushOnEvict: evicting an unwritten entry, including one
	// whose write was dropped, writes it synchronously in the evicting
	// caller, outside the cache lock.
	DurabilityFlushOnEvict
)

// Options tune the cache. Only Namespace and Store are required; others have
// sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "analysis:text"
	Store     store.Store

	Codec           codec.Codec[V]    // nil => codec.JSON[V]
	Capacity        int               // hot-tier entries; 0 => 100
	DefaultTTL      time.Duration     // 0 => 24h
	FallbackTTL     time.Duration     // 0 => 30s
	MaxStale        time.Duration     // past ExpiresAt; 0 => unbounded
	Durability      Durability        // default DurabilityAdvisory
	PersistQueue    int               // pending durable writes; 0 => 256
	PersistTimeout  time.Duration     // per durable write; 0 => 5s
	Clock           clockwork.Clock   // nil => real clock
	Logger          Logger            // if nil, NopLogger is used
	Hooks           Hooks             // if nil, NopHooks is used
	GenStore        genstore.GenStore // nil => genstore.Local (in-process)
	CleanupInterval time.Duration     // local genstore sweep; 0 => 1h
	GenRetention    time.Duration     // local genstore retention; 0 => 30d
	Disabled        bool              // default false (enabled)
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
