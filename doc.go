// Package tiercache implements a two-tier content cache with offline
// fallback: a bounded in-memory LRU (hot tier) in front of a pluggable byte
// store (durable tier), with a read-through resolver that collapses
// concurrent fetches for the same key and degrades to stale or locally
// produced values when the remote is unreachable.
//
// Components:
//   - Cache[V]: the tiered cache. Writes land in the hot tier immediately and
//     are persisted by a single background worker.
//   - store.Store: durable byte store (memory, fsstore, redis, bigcache,
//     ristretto, minio).
//   - Gate[V]: per-key single-flight for remote fetches.
//   - Resolver[V]: fresh hit -> remote -> stale -> fallback -> ErrUnavailable.
//   - Coordinator: shrinks caches under memory pressure and compacts durable
//     tiers when idle.
//
// Keys:
//
//	tc:<ns>:<key>  - durable records (see internal/wire for the framing)
//
// Read-through:
//
//	r := tiercache.NewResolver(cache, tiercache.ResolverOptions{})
//	res, err := r.Resolve(ctx, keys.Derive(text, nil).String(), remote, local, online)
//	if errors.Is(err, tiercache.ErrUnavailable) { ... }
//
// Generations guard the fetch/invalidate race: the resolver snapshots a key's
// generation before calling the remote and writes with PutWithGen, which is a
// no-op if the key was invalidated in between.
package tiercache
