package tiercache

import (
	"context"
	"time"
)

// Probe reports whether the remote is reachable. nil means online.
type Probe func() bool

// Result is what Resolve produced.
type Result[V any] struct {
	Value  V
	Origin Origin
	// FromCache is true when Value came from the cache rather than a call
	// made by this Resolve.
	FromCache bool
	// Degraded is set when a stale value was served because the remote failed.
	Degraded bool
	// Cause explains a non-fresh result: ErrOffline, or the remote failure.
	Cause error
}

type ResolverOptions struct {
	TTL          time.Duration // remote results; 0 => cache DefaultTTL
	Policy       CancelPolicy  // default CancelNever
	FetchTimeout time.Duration // bounds each shared remote call; 0 = none
	Logger       Logger        // if nil, NopLogger is used
	Hooks        Hooks         // if nil, NopHooks is used
}

// Resolver is the read-through path over a Cache: fresh hit, then remote
// (single-flight), then stale, then fallback.
type Resolver[V any] struct {
	cache Cache[V]
	gate  *Gate[fetched[V]]
	ttl   time.Duration
	log   Logger
	hooks Hooks
}

func NewResolver[V any](c Cache[V], opts ResolverOptions) *Resolver[V] {
	return &Resolver[V]{
		cache: c,
		gate:  NewGate[fetched[V]](GateOptions{Policy: opts.Policy, Timeout: opts.FetchTimeout}),
		ttl:   opts.TTL,
		log:   coalesce[Logger](opts.Logger, NopLogger{}),
		hooks: coalesce[Hooks](opts.Hooks, NopHooks{}),
	}
}

// Resolve returns a value for key. The only error it returns is an
// *UnavailableError, which matches ErrUnavailable.
func (r *Resolver[V]) Resolve(ctx context.Context, key string, remote, fallback FetchFunc[V], online Probe) (Result[V], error) {
	ns := r.cache.Namespace()
	l := r.cache.Get(ctx, key)
	if l.Status == Fresh {
		r.hooks.Resolved(ns, OutcomeFresh)
		return Result[V]{Value: l.Entry.Value, Origin: l.Entry.Origin, FromCache: true}, nil
	}

	if online != nil && !online() {
		if l.Status == Stale {
			r.log.Debug("serving stale (offline)", Fields{"ns": ns, "key": key})
			r.hooks.Resolved(ns, OutcomeStaleOffline)
			return Result[V]{Value: l.Entry.Value, Origin: l.Entry.Origin, FromCache: true, Cause: ErrOffline}, nil
		}
		return r.fallback(ctx, key, fallback, nil, ErrOffline)
	}

	f, err := r.fetch(ctx, key, remote)
	if err == nil {
		if f.cached {
			r.hooks.Resolved(ns, OutcomeFresh)
			return Result[V]{Value: f.value, Origin: f.origin, FromCache: true}, nil
		}
		r.hooks.Resolved(ns, OutcomeRemote)
		return Result[V]{Value: f.value, Origin: OriginRemote}, nil
	}

	remoteErr := &RemoteError{Key: key, Err: err}
	r.log.Warn("remote fetch failed", Fields{"ns": ns, "key": key, "err": err})
	if l.Status == Stale {
		r.hooks.Resolved(ns, OutcomeStaleFailed)
		return Result[V]{Value: l.Entry.Value, Origin: l.Entry.Origin, FromCache: true, Degraded: true, Cause: remoteErr}, nil
	}
	return r.fallback(ctx, key, fallback, remoteErr, remoteErr)
}

// fetched is the outcome of a shared call; cached marks a value a previous
// flight had already stored.
type fetched[V any] struct {
	value  V
	origin Origin
	cached bool
}

// fetch runs remote once per key across concurrent callers. The shared call
// writes its result before any waiter is released.
func (r *Resolver[V]) fetch(ctx context.Context, key string, remote FetchFunc[V]) (fetched[V], error) {
	if remote == nil {
		return fetched[V]{}, ErrNoRemote
	}
	return r.gate.Fetch(ctx, key, func(fctx context.Context) (fetched[V], error) {
		// a caller that missed may arrive just after the previous flight ended
		if l := r.cache.Get(fctx, key); l.Status == Fresh {
			return fetched[V]{value: l.Entry.Value, origin: l.Entry.Origin, cached: true}, nil
		}
		g := r.cache.SnapshotGen(key)
		v, err := remote(fctx)
		if err != nil {
			return fetched[V]{}, err
		}
		if !r.cache.PutWithGen(fctx, key, v, r.ttl, g) {
			r.log.Debug("fetched value not cached (invalidated mid-flight)", Fields{"ns": r.cache.Namespace(), "key": key})
		}
		return fetched[V]{value: v, origin: OriginRemote}, nil
	})
}

func (r *Resolver[V]) fallback(ctx context.Context, key string, fb FetchFunc[V], remoteErr, cause error) (Result[V], error) {
	ns := r.cache.Namespace()
	var fbErr error
	if fb == nil {
		fbErr = ErrNoFallback
	} else {
		v, err := fb(ctx)
		if err == nil {
			r.cache.PutFallback(ctx, key, v)
			r.hooks.Resolved(ns, OutcomeFallback)
			return Result[V]{Value: v, Origin: OriginFallback, Cause: cause}, nil
		}
		fbErr = err
	}

	r.log.Error("no value available", Fields{"ns": ns, "key": key, "remote_err": remoteErr, "fallback_err": fbErr})
	r.hooks.Resolved(ns, OutcomeUnavailable)
	var zero Result[V]
	return zero, &UnavailableError{Key: key, Remote: remoteErr, Fallback: fbErr}
}

// InFlight reports keys with a remote call running.
func (r *Resolver[V]) InFlight() int { return r.gate.InFlight() }
