package tiercache

// EvictReason tells why an entry left the hot tier without being invalidated.
type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"  // LRU victim of an insert
	EvictPressure EvictReason = "pressure"  // Shrink under memory pressure
	EvictMaxStale EvictReason = "max_stale" // older than ExpiresAt + MaxStale
)

// Outcome is how Resolve satisfied (or failed) a request.
type Outcome string

const (
	OutcomeFresh        Outcome = "fresh"
	OutcomeRemote       Outcome = "remote"
	OutcomeStaleOffline Outcome = "stale_offline"
	OutcomeStaleFailed  Outcome = "stale_degraded"
	OutcomeFallback     Outcome = "fallback"
	OutcomeUnavailable  Outcome = "unavailable"
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// Every Get, after both tiers were consulted.
	Lookup(ns string, status Status)

	// An entry left the hot tier.
	Evicted(ns, key string, reason EvictReason)

	// A durable write failed or its job was dropped on a full queue.
	PersistFailed(ns, key string, err error)
	PersistDropped(ns, key string)

	// The durable tier failed a read; the read was served as a miss.
	StoreReadFailed(ns, key string, err error)

	// A durable record was deleted on read.
	// reason ∈ {"corrupt", "value_decode", "max_stale", "invalidated"}
	SelfHeal(ns, key, reason string)

	// Resolve finished.
	Resolved(ns string, outcome Outcome)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Lookup(string, Status)                 {}
func (NopHooks) Evicted(string, string, EvictReason)   {}
func (NopHooks) PersistFailed(string, string, error)   {}
func (NopHooks) PersistDropped(string, string)         {}
func (NopHooks) StoreReadFailed(string, string, error) {}
func (NopHooks) SelfHeal(string, string, string)       {}
func (NopHooks) Resolved(string, Outcome)              {}
