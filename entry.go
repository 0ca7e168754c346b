package tiercache

import "time"

// Status classifies a lookup.
type Status uint8

const (
	Miss Status = iota
	Fresh
	Stale
)

func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "miss"
	}
}

// Origin records where an entry's value came from.
type Origin uint8

const (
	OriginRemote Origin = iota + 1
	OriginFallback
)

func (o Origin) String() string {
	switch o {
	case OriginRemote:
		return "remote"
	case OriginFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Entry is an immutable cached value. A refresh replaces the entry.
type Entry[V any] struct {
	Key       string
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time
	Origin    Origin
}

// FreshAt reports whether the entry is still within its TTL at now.
func (e Entry[V]) FreshAt(now time.Time) bool { return now.Before(e.ExpiresAt) }

// Lookup is the result of Get. Entry is the zero value on Miss.
type Lookup[V any] struct {
	Status Status
	Entry  Entry[V]
}

func (l Lookup[V]) Hit() bool { return l.Status != Miss }

// Gen is an opaque generation snapshot taken by SnapshotGen.
type Gen struct {
	key   uint64
	epoch uint64
	ok    bool
}

// Stats is a point-in-time view of a cache's counters.
type Stats struct {
	Namespace       string
	Entries         int
	Capacity        int
	Limit           int // effective capacity; below Capacity while shrunk
	Hits            uint64
	StaleHits       uint64
	Misses          uint64
	DurableLoads    uint64
	Evictions       uint64
	SelfHeals       uint64
	StoreErrors     uint64
	PersistFailures uint64
	PersistDropped  uint64
}
