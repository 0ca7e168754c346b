package tiercache

import (
	"bytes"
	"container/list"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/internal/wire"
	"github.com/unkn0wn-root/tiercache/store"
)

const healthPrefix = "tc-health:"

type node[V any] struct {
	entry Entry[V]
	gen   Gen
	// settled is set once nothing more needs writing: the record landed,
	// the entry is hot-only, or the write was superseded or unencodable.
	settled atomic.Bool
}

// tombstone remembers an InvalidateAll so durable records it could not
// delete are ignored on load and in-flight writes it raced are discarded.
type tombstone struct {
	epoch uint64
	at    time.Time
	match func(string) bool
}

type counters struct {
	hits, staleHits, misses       atomic.Uint64
	durableLoads, evictions       atomic.Uint64
	selfHeals, storeErrors        atomic.Uint64
	persistFailures, persistDrops atomic.Uint64
}

type cache[V any] struct {
	ns             string
	prefix         string
	store          store.Store
	codec          codec.Codec[V]
	clock          clockwork.Clock
	log            Logger
	hooks          Hooks
	gen            genstore.GenStore
	enabled        bool
	durability     Durability
	defaultTTL     time.Duration
	fallbackTTL    time.Duration
	maxStale       time.Duration
	persistTimeout time.Duration

	// hot tier; front = most recently used
	mu       sync.Mutex
	ll       *list.List
	items    map[string]*list.Element
	capacity int
	limit    int

	tombMu   sync.RWMutex
	epoch    uint64
	tombs    []tombstone
	lastTomb time.Time // newest tombstone; survives pruning
	maxTTL   atomic.Int64

	// bumped under mu by Invalidate once the hot entry is gone
	invSeq atomic.Uint64

	// serializes durable mutations: worker writes vs invalidation deletes
	persistMu sync.Mutex
	q         *persister[V]

	stats     counters
	closeOnce sync.Once
	closeErr  error
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("tiercache: namespace is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("tiercache: store is required")
	}
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("tiercache: capacity must be positive")
	}

	c := &cache[V]{
		ns:         opts.Namespace,
		prefix:     "tc:" + opts.Namespace + ":",
		store:      opts.Store,
		enabled:    !opts.Disabled,
		durability: opts.Durability,
		maxStale:   opts.MaxStale,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}

	// defaults
	c.codec = coalesce[codec.Codec[V]](opts.Codec, codec.JSON[V]{})
	c.clock = coalesce[clockwork.Clock](opts.Clock, clockwork.NewRealClock())
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.capacity = coalesce(opts.Capacity, defaultCapacity)
	c.limit = c.capacity
	c.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)
	c.fallbackTTL = coalesce(opts.FallbackTTL, defaultFallbackTTL)
	c.persistTimeout = coalesce(opts.PersistTimeout, defaultPersistTimeout)
	c.maxTTL.Store(int64(c.defaultTTL))

	if opts.GenStore != nil {
		c.gen = opts.GenStore
	} else {
		// default to in-process generations with periodic cleanup
		c.gen = genstore.NewLocal(c.clock,
			coalesce(opts.CleanupInterval, defaultSweep),
			coalesce(opts.GenRetention, defaultGenRetention))
	}

	c.q = newPersister[V](coalesce(opts.PersistQueue, defaultPersistQueue), c.persistNode)
	return c, nil
}

func (c *cache[V]) Namespace() string { return c.ns }
func (c *cache[V]) Enabled() bool     { return c.enabled }

func (c *cache[V]) storageKey(key string) string { return c.prefix + key }

func (c *cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		// drain pending writes before the store goes away
		qErr := c.q.close(ctx)
		_ = c.gen.Close(ctx)
		c.closeErr = errors.Join(qErr, c.store.Close(ctx))
	})
	return c.closeErr
}

// ---------------------------------------------------------------------------
// reads

func (c *cache[V]) status(e Entry[V], now time.Time) Status {
	if e.FreshAt(now) {
		return Fresh
	}
	return Stale
}

func (c *cache[V]) tooStale(e Entry[V], now time.Time) bool {
	return c.maxStale > 0 && !now.Before(e.ExpiresAt.Add(c.maxStale))
}

func (c *cache[V]) record(s Status) {
	switch s {
	case Fresh:
		c.stats.hits.Add(1)
	case Stale:
		c.stats.staleHits.Add(1)
	default:
		c.stats.misses.Add(1)
	}
	c.hooks.Lookup(c.ns, s)
}

func (c *cache[V]) hit(e Entry[V], now time.Time) Lookup[V] {
	s := c.status(e, now)
	c.record(s)
	return Lookup[V]{Status: s, Entry: e}
}

func (c *cache[V]) miss() Lookup[V] {
	c.record(Miss)
	return Lookup[V]{}
}

func (c *cache[V]) Get(ctx context.Context, key string) Lookup[V] {
	if !c.enabled {
		return Lookup[V]{}
	}
	now := c.clock.Now()

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		n := el.Value.(*node[V])
		if c.tooStale(n.entry, now) {
			c.removeLocked(el)
			c.mu.Unlock()
			c.stats.evictions.Add(1)
			c.hooks.Evicted(c.ns, key, EvictMaxStale)
			// the durable copy is no younger; drop it too
			c.dropDurable(ctx, key, "max_stale")
			return c.miss()
		}
		c.ll.MoveToFront(el)
		e := n.entry
		c.mu.Unlock()
		return c.hit(e, now)
	}
	c.mu.Unlock()

	return c.load(ctx, key, now)
}

// load reads key from the durable tier and promotes it. Runs without the
// hot-tier lock; the generation snapshot taken first decides whether the
// promotion still applies once the lock is retaken.
func (c *cache[V]) load(ctx context.Context, key string, now time.Time) Lookup[V] {
	g := c.SnapshotGen(key)
	sk := c.storageKey(key)

	raw, ok, err := c.store.Get(ctx, sk)
	if err != nil {
		c.stats.storeErrors.Add(1)
		c.log.Warn("durable read failed", Fields{"ns": c.ns, "key": key, "err": err})
		c.hooks.StoreReadFailed(c.ns, key, &StoreError{Op: "get", Key: key, Err: err})
		return c.miss()
	}
	if !ok {
		return c.miss()
	}

	rec, err := wire.Decode(raw)
	if err != nil || Origin(rec.Origin) != OriginRemote {
		c.dropDurable(ctx, key, "corrupt")
		return c.miss()
	}
	v, err := c.codec.Decode(rec.Payload)
	if err != nil {
		c.dropDurable(ctx, key, "value_decode")
		return c.miss()
	}
	e := Entry[V]{
		Key:       key,
		Value:     v,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Origin:    OriginRemote,
	}
	if c.tooStale(e, now) {
		c.dropDurable(ctx, key, "max_stale")
		return c.miss()
	}
	if c.tombstoned(key, e.CreatedAt) {
		c.dropDurable(ctx, key, "invalidated")
		return c.miss()
	}

	n := &node[V]{entry: e, gen: g}
	n.settled.Store(true)

	current := c.lockCurrent(key, g)
	if el, ok := c.items[key]; ok {
		// a put or another load won the race; serve what is hot
		c.ll.MoveToFront(el)
		e = el.Value.(*node[V]).entry
		c.mu.Unlock()
		return c.hit(e, now)
	}
	if !current {
		c.mu.Unlock()
		return c.miss()
	}
	c.items[key] = c.ll.PushFront(n)
	evicted := c.trimLocked()
	c.mu.Unlock()

	c.stats.durableLoads.Add(1)
	c.afterEvict(evicted, EvictCapacity)
	return c.hit(e, now)
}

// dropDurable deletes a record found unusable on read.
func (c *cache[V]) dropDurable(ctx context.Context, key, reason string) {
	c.stats.selfHeals.Add(1)
	c.persistMu.Lock()
	err := c.store.Delete(ctx, c.storageKey(key))
	c.persistMu.Unlock()
	if err != nil {
		c.log.Warn("self-heal delete failed", Fields{"ns": c.ns, "key": key, "reason": reason, "err": err})
	} else {
		c.log.Debug("self-heal", Fields{"ns": c.ns, "key": key, "reason": reason})
	}
	c.hooks.SelfHeal(c.ns, key, reason)
}

func (c *cache[V]) Contains(ctx context.Context, key string) bool {
	if !c.enabled {
		return false
	}
	now := c.clock.Now()

	c.mu.Lock()
	el, ok := c.items[key]
	var e Entry[V]
	if ok {
		e = el.Value.(*node[V]).entry
	}
	c.mu.Unlock()
	if ok {
		return !c.tooStale(e, now)
	}

	raw, ok, err := c.store.Get(ctx, c.storageKey(key))
	if err != nil || !ok {
		return false
	}
	rec, err := wire.Decode(raw)
	if err != nil {
		return false
	}
	e.ExpiresAt = rec.ExpiresAt
	return !c.tooStale(e, now) && !c.tombstoned(key, rec.CreatedAt)
}

// ---------------------------------------------------------------------------
// writes

func (c *cache[V]) Put(ctx context.Context, key string, value V, ttl time.Duration) {
	c.PutWithGen(ctx, key, value, ttl, c.SnapshotGen(key))
}

func (c *cache[V]) PutWithGen(_ context.Context, key string, value V, ttl time.Duration, g Gen) bool {
	if !c.enabled {
		return false
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.noteTTL(ttl)

	now := c.stamp(c.clock.Now())
	n := &node[V]{
		entry: Entry[V]{Key: key, Value: value, CreatedAt: now, ExpiresAt: now.Add(ttl), Origin: OriginRemote},
		gen:   g,
	}
	if !c.insert(n) {
		c.log.Debug("PutWithGen skipped (gen mismatch)", Fields{"ns": c.ns, "key": key})
		return false
	}
	if !c.q.enqueue(n) {
		c.stats.persistDrops.Add(1)
		c.log.Warn("persist queue full; write dropped", Fields{"ns": c.ns, "key": key})
		c.hooks.PersistDropped(c.ns, key)
	}
	return true
}

func (c *cache[V]) PutFallback(_ context.Context, key string, value V) {
	if !c.enabled {
		return
	}
	now := c.clock.Now()
	n := &node[V]{
		entry: Entry[V]{Key: key, Value: value, CreatedAt: now, ExpiresAt: now.Add(c.fallbackTTL), Origin: OriginFallback},
		gen:   c.SnapshotGen(key),
	}
	n.settled.Store(true)
	c.insert(n)
}

func (c *cache[V]) noteTTL(ttl time.Duration) {
	for {
		cur := c.maxTTL.Load()
		if int64(ttl) <= cur || c.maxTTL.CompareAndSwap(cur, int64(ttl)) {
			return
		}
	}
}

// insert places n at the front, replacing any entry for the same key.
// Returns false when n's generation is stale.
func (c *cache[V]) insert(n *node[V]) bool {
	key := n.entry.Key
	if !c.lockCurrent(key, n.gen) {
		c.mu.Unlock()
		return false
	}
	if el, ok := c.items[key]; ok {
		c.ll.Remove(el)
	}
	c.items[key] = c.ll.PushFront(n)
	evicted := c.trimLocked()
	c.mu.Unlock()

	c.afterEvict(evicted, EvictCapacity)
	return true
}

func (c *cache[V]) removeLocked(el *list.Element) {
	n := c.ll.Remove(el).(*node[V])
	delete(c.items, n.entry.Key)
}

// trimLocked evicts from the back until the hot tier fits its limit.
func (c *cache[V]) trimLocked() []*node[V] {
	var out []*node[V]
	for c.ll.Len() > c.limit {
		el := c.ll.Back()
		out = append(out, el.Value.(*node[V]))
		c.removeLocked(el)
	}
	return out
}

// afterEvict runs outside the lock.
func (c *cache[V]) afterEvict(evicted []*node[V], reason EvictReason) {
	for _, n := range evicted {
		c.stats.evictions.Add(1)
		c.hooks.Evicted(c.ns, n.entry.Key, reason)
		if c.durability == DurabilityFlushOnEvict && !n.settled.Load() {
			c.persistNode(n)
		}
	}
}

// persistNode writes n's record unless an invalidation superseded it.
// Called by the persist worker and, under DurabilityFlushOnEvict, by evictors.
func (c *cache[V]) persistNode(n *node[V]) {
	if n.settled.Load() {
		return
	}
	key := n.entry.Key
	payload, err := c.codec.Encode(n.entry.Value)
	if err != nil {
		n.settled.Store(true)
		c.persistFailed(key, fmt.Errorf("encode: %w", err))
		return
	}
	raw := wire.Encode(wire.Record{
		Origin:    byte(n.entry.Origin),
		CreatedAt: n.entry.CreatedAt,
		ExpiresAt: n.entry.ExpiresAt,
		Payload:   payload,
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.persistTimeout)
	defer cancel()

	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if n.settled.Load() {
		return
	}
	if c.superseded(key, n.gen) {
		n.settled.Store(true)
		c.log.Debug("persist skipped (invalidated)", Fields{"ns": c.ns, "key": key})
		return
	}
	err = c.store.Put(ctx, c.storageKey(key), raw, store.Meta{CreatedAt: n.entry.CreatedAt, ExpiresAt: n.entry.ExpiresAt})
	if err != nil {
		c.persistFailed(key, &StoreError{Op: "put", Key: key, Err: err})
		return
	}
	n.settled.Store(true)
}

func (c *cache[V]) persistFailed(key string, err error) {
	c.stats.persistFailures.Add(1)
	c.log.Warn("durable write failed", Fields{"ns": c.ns, "key": key, "err": err})
	c.hooks.PersistFailed(c.ns, key, err)
}

func (c *cache[V]) Flush(ctx context.Context) error { return c.q.flush(ctx) }

// ---------------------------------------------------------------------------
// generations

func (c *cache[V]) SnapshotGen(key string) Gen {
	c.tombMu.RLock()
	ep := c.epoch
	c.tombMu.RUnlock()

	g, err := c.gen.Snapshot(context.Background(), c.storageKey(key))
	if err != nil {
		// conservative: an invalid snapshot makes CAS writes skip
		c.log.Warn("gen snapshot failed", Fields{"ns": c.ns, "key": key, "err": err})
		return Gen{}
	}
	return Gen{key: g, epoch: ep, ok: true}
}

// superseded reports whether an invalidation touched key after g was taken.
// It reads the generation store, so callers must not hold mu.
// Lock order is mu, persistMu, then tombMu.
func (c *cache[V]) superseded(key string, g Gen) bool {
	if !g.ok {
		return true
	}
	cur, err := c.gen.Snapshot(context.Background(), c.storageKey(key))
	if err != nil {
		return true
	}
	return c.staleAt(key, g, cur)
}

// lockCurrent locks mu and reports whether g is still current for key.
// The generation is read before locking; an Invalidate that cleared the hot
// tier in between forces a re-read. mu is held on return either way.
func (c *cache[V]) lockCurrent(key string, g Gen) bool {
	if !g.ok {
		c.mu.Lock()
		return false
	}
	sk := c.storageKey(key)
	for {
		seq := c.invSeq.Load()
		cur, err := c.gen.Snapshot(context.Background(), sk)
		c.mu.Lock()
		if err != nil {
			return false
		}
		if c.invSeq.Load() == seq {
			return !c.staleAt(key, g, cur)
		}
		c.mu.Unlock()
	}
}

// staleAt is superseded with the current generation already read.
func (c *cache[V]) staleAt(key string, g Gen, cur uint64) bool {
	if !g.ok || cur != g.key {
		return true
	}
	c.tombMu.RLock()
	defer c.tombMu.RUnlock()
	if g.epoch == c.epoch {
		return false
	}
	for _, t := range c.tombs {
		if t.epoch > g.epoch && t.match(key) {
			return true
		}
	}
	return false
}

func (c *cache[V]) addTombstone(match func(string) bool) {
	c.tombMu.Lock()
	c.epoch++
	at := c.clock.Now()
	if !at.After(c.lastTomb) {
		at = c.lastTomb.Add(time.Nanosecond)
	}
	c.lastTomb = at
	c.tombs = append(c.tombs, tombstone{epoch: c.epoch, at: at, match: match})
	c.tombMu.Unlock()
}

// stamp moves now past the newest tombstone so a record written after an
// invalidation is never shadowed by it, even on a coarse clock.
func (c *cache[V]) stamp(now time.Time) time.Time {
	c.tombMu.RLock()
	defer c.tombMu.RUnlock()
	if !now.After(c.lastTomb) {
		return c.lastTomb.Add(time.Nanosecond)
	}
	return now
}

// tombstoned reports whether a durable record created at created is
// shadowed. A record stamped at the tombstone's own instant predates it.
func (c *cache[V]) tombstoned(key string, created time.Time) bool {
	c.tombMu.RLock()
	defer c.tombMu.RUnlock()
	for _, t := range c.tombs {
		if !created.After(t.at) && t.match(key) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// invalidation

func (c *cache[V]) Invalidate(ctx context.Context, key string) error {
	if !c.enabled {
		return nil
	}
	sk := c.storageKey(key)

	_, bumpErr := c.gen.Bump(ctx, sk)
	if bumpErr != nil {
		// in-flight writes must still lose; fall back to a tombstone
		c.log.Warn("gen bump failed", Fields{"ns": c.ns, "key": key, "err": bumpErr})
		c.addTombstone(exactKey(key))
	}

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	c.invSeq.Add(1)
	c.mu.Unlock()

	c.persistMu.Lock()
	delErr := c.store.Delete(ctx, sk)
	c.persistMu.Unlock()

	if delErr != nil {
		if bumpErr == nil {
			c.addTombstone(exactKey(key))
		}
		c.log.Error("invalidate delete failed", Fields{"ns": c.ns, "key": key, "err": delErr})
		return &InvalidateError{Key: key, BumpErr: bumpErr, DelErr: &StoreError{Op: "delete", Key: key, Err: delErr}}
	}
	c.log.Debug("invalidated key (bumped gen + cleared both tiers)", Fields{"ns": c.ns, "key": key})
	return nil
}

func exactKey(key string) func(string) bool {
	return func(k string) bool { return k == key }
}

func (c *cache[V]) InvalidateAll(ctx context.Context, match func(key string) bool) error {
	if !c.enabled {
		return nil
	}
	if match == nil {
		match = func(string) bool { return true }
	}
	c.addTombstone(match)

	c.mu.Lock()
	n := 0
	for k, el := range c.items {
		if match(k) {
			c.removeLocked(el)
			n++
		}
	}
	c.mu.Unlock()

	sc, ok := c.store.(store.Scanner)
	if !ok {
		c.log.Debug("invalidated hot entries; durable tier covered by tombstone", Fields{"ns": c.ns, "hot": n})
		return nil
	}
	keys, err := sc.Keys(ctx, c.prefix)
	if err != nil {
		return &StoreError{Op: "keys", Err: err}
	}

	var errs []error
	deleted := 0
	c.persistMu.Lock()
	for _, sk := range keys {
		k := strings.TrimPrefix(sk, c.prefix)
		if !match(k) {
			continue
		}
		if err := c.store.Delete(ctx, sk); err != nil {
			errs = append(errs, &StoreError{Op: "delete", Key: k, Err: err})
			continue
		}
		deleted++
	}
	c.persistMu.Unlock()

	c.log.Debug("invalidated keys", Fields{"ns": c.ns, "hot": n, "durable": deleted})
	return errors.Join(errs...)
}

// ---------------------------------------------------------------------------
// maintenance

func (c *cache[V]) Shrink(ratio float64) int {
	lim := int(float64(c.capacity) * ratio)
	if lim < 1 {
		lim = 1
	}
	c.mu.Lock()
	if lim < c.limit {
		c.limit = lim
	}
	evicted := c.trimLocked()
	c.mu.Unlock()

	c.afterEvict(evicted, EvictPressure)
	return len(evicted)
}

func (c *cache[V]) Restore() {
	c.mu.Lock()
	c.limit = c.capacity
	c.mu.Unlock()
}

func (c *cache[V]) Compact(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		err = &StoreError{Op: "compact", Err: err}
	}
	c.gen.Cleanup(cutoff)

	// a tombstone must outlive every record it shadows
	keepAfter := cutoff.Add(-time.Duration(c.maxTTL.Load()))
	c.tombMu.Lock()
	kept := c.tombs[:0]
	for _, t := range c.tombs {
		if !t.at.Before(keepAfter) {
			kept = append(kept, t)
		}
	}
	c.tombs = kept
	c.tombMu.Unlock()

	if c.maxStale > 0 {
		now := c.clock.Now()
		var stale []*node[V]
		c.mu.Lock()
		for _, el := range c.items {
			if nd := el.Value.(*node[V]); c.tooStale(nd.entry, now) {
				stale = append(stale, nd)
				c.removeLocked(el)
			}
		}
		c.mu.Unlock()
		for _, nd := range stale {
			c.stats.evictions.Add(1)
			c.hooks.Evicted(c.ns, nd.entry.Key, EvictMaxStale)
		}
		n += len(stale)
	}
	return n, err
}

func (c *cache[V]) Check(ctx context.Context) error {
	now := c.clock.Now()
	key := healthPrefix + c.ns
	probe := wire.Encode(wire.Record{Origin: byte(OriginRemote), CreatedAt: now, ExpiresAt: now, Payload: []byte("ok")})

	if err := c.store.Put(ctx, key, probe, store.Meta{CreatedAt: now, ExpiresAt: now}); err != nil {
		return &StoreError{Op: "check put", Key: key, Err: err}
	}
	got, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return &StoreError{Op: "check get", Key: key, Err: err}
	}
	if !ok || !bytes.Equal(got, probe) {
		return &StoreError{Op: "check get", Key: key, Err: errors.New("probe mismatch")}
	}
	if err := c.store.Delete(ctx, key); err != nil {
		return &StoreError{Op: "check delete", Key: key, Err: err}
	}
	return nil
}

func (c *cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *cache[V]) Stats() Stats {
	c.mu.Lock()
	entries, limit := c.ll.Len(), c.limit
	c.mu.Unlock()
	return Stats{
		Namespace:       c.ns,
		Entries:         entries,
		Capacity:        c.capacity,
		Limit:           limit,
		Hits:            c.stats.hits.Load(),
		StaleHits:       c.stats.staleHits.Load(),
		Misses:          c.stats.misses.Load(),
		DurableLoads:    c.stats.durableLoads.Load(),
		Evictions:       c.stats.evictions.Load(),
		SelfHeals:       c.stats.selfHeals.Load(),
		StoreErrors:     c.stats.storeErrors.Load(),
		PersistFailures: c.stats.persistFailures.Load(),
		PersistDropped:  c.stats.persistDrops.Load(),
	}
}
