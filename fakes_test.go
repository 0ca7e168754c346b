package tiercache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/genstore"
	"github.com/unkn0wn-root/tiercache/store"
	"github.com/unkn0wn-root/tiercache/store/memory"
)

type verdict struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// faultStore wraps the memory store with injectable failures and an optional
// gate that parks the first Put until released.
type faultStore struct {
	*memory.Store

	mu     sync.Mutex
	getErr error
	putErr error
	delErr error
	puts   int

	block     chan struct{}
	entered   chan struct{}
	blockOnce sync.Once
}

func newFaultStore() *faultStore { return &faultStore{Store: memory.New()} }

// parkFirstPut makes the next Put signal entered and wait for release.
func (s *faultStore) parkFirstPut() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = make(chan struct{})
	s.entered = make(chan struct{})
	return s.entered, func() { close(s.block) }
}

func (s *faultStore) set(fn func(*faultStore)) {
	s.mu.Lock()
	fn(s)
	s.mu.Unlock()
}

func (s *faultStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *faultStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, false, err
	}
	return s.Store.Get(ctx, key)
}

func (s *faultStore) Put(ctx context.Context, key string, value []byte, meta store.Meta) error {
	s.mu.Lock()
	err, block := s.putErr, s.block
	s.puts++
	s.mu.Unlock()
	if block != nil {
		s.blockOnce.Do(func() {
			close(s.entered)
			<-block
		})
	}
	if err != nil {
		return err
	}
	return s.Store.Put(ctx, key, value, meta)
}

func (s *faultStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	err := s.delErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Delete(ctx, key)
}

func storeMeta(now time.Time) store.Meta { return store.Meta{CreatedAt: now, ExpiresAt: now} }

// opaqueStore hides the Scanner capability of the wrapped store.
type opaqueStore struct{ store.Store }

// failGen fails Bump; Snapshot works.
type failGen struct {
	mu   sync.Mutex
	gens map[string]uint64
	err  error
}

func (g *failGen) Snapshot(_ context.Context, k string) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gens[k], nil
}
func (g *failGen) Bump(context.Context, string) (uint64, error) { return 0, g.err }
func (g *failGen) Cleanup(time.Time) int                        { return 0 }
func (g *failGen) Close(context.Context) error                  { return nil }

// slowGen parks the nth Snapshot after it has read the generation, so the
// caller holds a value that may go stale before it returns.
type slowGen struct {
	*genstore.Local

	mu      sync.Mutex
	calls   int
	parkAt  int
	entered chan struct{}
	release chan struct{}
}

func newSlowGen(parkAt int) *slowGen {
	return &slowGen{
		Local:   genstore.NewLocal(clockwork.NewFakeClock(), 0, 0),
		parkAt:  parkAt,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *slowGen) Snapshot(ctx context.Context, k string) (uint64, error) {
	v, err := g.Local.Snapshot(ctx, k)
	g.mu.Lock()
	g.calls++
	park := g.calls == g.parkAt
	g.mu.Unlock()
	if park {
		close(g.entered)
		<-g.release
	}
	return v, err
}

// recHooks counts events by name.
type recHooks struct {
	NopHooks
	mu     sync.Mutex
	events map[string]int
}

func newRecHooks() *recHooks { return &recHooks{events: make(map[string]int)} }

func (h *recHooks) inc(k string) {
	h.mu.Lock()
	h.events[k]++
	h.mu.Unlock()
}

func (h *recHooks) count(k string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[k]
}

func (h *recHooks) Evicted(_, _ string, r EvictReason)   { h.inc("evicted:" + string(r)) }
func (h *recHooks) PersistFailed(_, _ string, _ error)   { h.inc("persist_failed") }
func (h *recHooks) PersistDropped(_, _ string)           { h.inc("dropped") }
func (h *recHooks) StoreReadFailed(_, _ string, _ error) { h.inc("read_failed") }
func (h *recHooks) SelfHeal(_, _, reason string)         { h.inc("self_heal:" + reason) }
func (h *recHooks) Resolved(_ string, o Outcome)         { h.inc("resolved:" + string(o)) }

func newTestCache(t *testing.T, st store.Store, optsOpt func(*Options[verdict])) (*cache[verdict], *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	opts := Options[verdict]{
		Namespace: "verdict",
		Store:     st,
		Codec:     codec.JSON[verdict]{},
		Clock:     clock,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := newCache[verdict](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(context.Background()) })
	return cc, clock
}

// hotKeys lists hot-tier keys, most recently used first.
func hotKeys[V any](c *cache[V]) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for el := c.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*node[V]).entry.Key)
	}
	return out
}

func mustFlush[V any](t *testing.T, c *cache[V]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
