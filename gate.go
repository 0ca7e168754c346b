package tiercache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc produces a value for a key, typically over the network.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// CancelPolicy decides what happens to a shared fetch when its waiters leave.
type CancelPolicy uint8

const (
	// CancelNever lets the fetch finish and populate the cache even when every
	// caller has gone.
	CancelNever CancelPolicy = iota
	// CancelWhenAbandoned cancels the fetch's context once the last waiter's
	// ctx ends. Callers arriving after that attach to the cancelled call.
	CancelWhenAbandoned
)

type GateOptions struct {
	Policy CancelPolicy
	// Timeout bounds each shared call; 0 = none.
	Timeout time.Duration
}

type call struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Gate collapses concurrent fetches for the same key into one call whose
// outcome every caller receives. The call runs under a context detached from
// the caller that started it.
type Gate[V any] struct {
	group   singleflight.Group
	policy  CancelPolicy
	timeout time.Duration

	mu    sync.Mutex
	calls map[string]*call
}

func NewGate[V any](opts GateOptions) *Gate[V] {
	return &Gate[V]{
		policy:  opts.Policy,
		timeout: opts.Timeout,
		calls:   make(map[string]*call),
	}
}

// Fetch runs fn for key unless a call is already in flight, in which case it
// waits for that call. If ctx ends first Fetch returns ctx.Err(); the shared
// call keeps running unless the policy says otherwise.
func (g *Gate[V]) Fetch(ctx context.Context, key string, fn FetchFunc[V]) (V, error) {
	var zero V

	g.mu.Lock()
	c, ok := g.calls[key]
	if !ok {
		base := context.WithoutCancel(ctx)
		var cctx context.Context
		var cancel context.CancelFunc
		if g.timeout > 0 {
			cctx, cancel = context.WithTimeout(base, g.timeout)
		} else {
			cctx, cancel = context.WithCancel(base)
		}
		c = &call{ctx: cctx, cancel: cancel}
		g.calls[key] = c
	}
	c.waiters++
	// DoChan under mu keeps g.calls and the group's own map in step:
	// finish forgets the key under the same lock.
	ch := g.group.DoChan(key, func() (any, error) {
		defer g.finish(key, c)
		return fn(c.ctx)
	})
	g.mu.Unlock()

	select {
	case res := <-ch:
		g.leave(key, c, false)
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		g.leave(key, c, true)
		return zero, ctx.Err()
	}
}

func (g *Gate[V]) finish(key string, c *call) {
	g.mu.Lock()
	if g.calls[key] == c {
		delete(g.calls, key)
		g.group.Forget(key)
	}
	g.mu.Unlock()
	c.cancel()
}

func (g *Gate[V]) leave(key string, c *call, abandoned bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c.waiters--
	if abandoned && c.waiters == 0 && g.policy == CancelWhenAbandoned && g.calls[key] == c {
		c.cancel()
	}
}

// InFlight reports how many keys have a call running.
func (g *Gate[V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
