// Package asynchook moves Hooks calls off the cache's hot path.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{LookupEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	c, _ := tiercache.New[Verdict](tiercache.Options[Verdict]{
//	    Namespace: "verdicts",
//	    Store:     fsstore.NewMemory(0),
//	    Hooks:     hooks, // or raw if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/tiercache"
)

// Hooks queues events for a worker pool. Events are dropped, never
// blocked on, when the queue is full or the hooks are closed.
type Hooks struct {
	inner tiercache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ tiercache.Hooks = (*Hooks)(nil)

func New(inner tiercache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = tiercache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Lookup(ns string, s tiercache.Status) { h.try(func() { h.inner.Lookup(ns, s) }) }
func (h *Hooks) PersistDropped(ns, k string)          { h.try(func() { h.inner.PersistDropped(ns, k) }) }
func (h *Hooks) SelfHeal(ns, k, r string)             { h.try(func() { h.inner.SelfHeal(ns, k, r) }) }
func (h *Hooks) Resolved(ns string, o tiercache.Outcome) {
	h.try(func() { h.inner.Resolved(ns, o) })
}
func (h *Hooks) Evicted(ns, k string, r tiercache.EvictReason) {
	h.try(func() { h.inner.Evicted(ns, k, r) })
}
func (h *Hooks) PersistFailed(ns, k string, err error) {
	h.try(func() { h.inner.PersistFailed(ns, k, err) })
}
func (h *Hooks) StoreReadFailed(ns, k string, err error) {
	h.try(func() { h.inner.StoreReadFailed(ns, k, err) })
}
