// Package redis is a Store on go-redis. Values are plain strings; a sorted set
// scored by creation time (unix millis) indexes every key so DeleteOlderThan
// does not have to scan the keyspace.
//
// Cluster clients are supported: pipelines are split per slot by go-redis,
// and Keys walks every master.
package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

const defaultIndexKey = "tiercache:idx"

type Store struct {
	rdb         goredis.UniversalClient
	index       string
	retention   time.Duration
	closeClient bool
	now         func() time.Time
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Scanner = (*Store)(nil)
)

type Config struct {
	Client goredis.UniversalClient
	// IndexKey names the creation-time sorted set. Default "tiercache:idx".
	IndexKey string
	// Retention, when > 0, sets a server-side expiry of ExpiresAt+Retention so
	// abandoned values age out even if compaction never runs.
	Retention   time.Duration
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	idx := cfg.IndexKey
	if idx == "" {
		idx = defaultIndexKey
	}
	return &Store{
		rdb:         cfg.Client,
		index:       idx,
		retention:   cfg.Retention,
		closeClient: cfg.CloseClient,
		now:         time.Now,
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, meta store.Meta) error {
	var ttl time.Duration
	if s.retention > 0 {
		ttl = meta.ExpiresAt.Add(s.retention).Sub(s.now())
		if ttl <= 0 {
			// already past retention; nothing worth keeping
			return s.Delete(ctx, key)
		}
	}
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, key, value, ttl)
		p.ZAdd(ctx, s.index, goredis.Z{Score: float64(meta.CreatedAt.UnixMilli()), Member: key})
		return nil
	})
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, key)
		p.ZRem(ctx, s.index, key)
		return nil
	})
	return err
}

func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.rdb.ZRangeByScore(ctx, s.index, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	members := make([]any, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		// one DEL per key; a multi-key DEL spans slots on a cluster
		for _, k := range keys {
			p.Del(ctx, k)
		}
		p.ZRem(ctx, s.index, members...)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

type scanner interface {
	Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd
}

// Keys lists stored keys under prefix. A cluster is scanned master by master;
// SCAN on a cluster client only reaches one node.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(prefix) + "*"
	cc, ok := s.rdb.(*goredis.ClusterClient)
	if !ok {
		return s.scan(ctx, s.rdb, match)
	}

	var (
		mu  sync.Mutex
		out []string
	)
	err := cc.ForEachMaster(ctx, func(ctx context.Context, node *goredis.Client) error {
		keys, err := s.scan(ctx, node, match)
		if err != nil {
			return err
		}
		mu.Lock()
		out = append(out, keys...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) scan(ctx context.Context, c scanner, match string) ([]string, error) {
	var out []string
	iter := c.Scan(ctx, 0, match, 256).Iterator()
	for iter.Next(ctx) {
		if k := iter.Val(); k != s.index {
			out = append(out, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
