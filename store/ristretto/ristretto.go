// Package ristretto is a Store on dgraph-io/ristretto.
//
// Ristretto cannot enumerate its keys, so retention is delegated to its TTL:
// each value lives until ExpiresAt + Retention. DeleteOlderThan therefore has
// nothing to do and reports 0, and the store does not implement store.Scanner.
// Ristretto may also refuse or evict writes under cost pressure; both read
// back as misses.
package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiercache/store"
)

var ErrRejected = errors.New("ristretto store: write rejected")

type Store struct {
	c         *rc.Cache
	retention time.Duration
	now       func() time.Time
}

var _ store.Store = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // in bytes; each value costs len(value)
	BufferItems int64
	Metrics     bool
	// Retention past ExpiresAt. Default 7 days.
	Retention time.Duration
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	ret := cfg.Retention
	if ret <= 0 {
		ret = 7 * 24 * time.Hour
	}
	return &Store{c: c, retention: ret, now: time.Now}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, meta store.Meta) error {
	ttl := meta.ExpiresAt.Add(s.retention).Sub(s.now())
	if ttl <= 0 {
		s.c.Del(key)
		return nil
	}
	cp := append([]byte(nil), value...)
	if !s.c.SetWithTTL(key, cp, int64(len(cp)), ttl) {
		return ErrRejected
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

func (s *Store) DeleteOlderThan(context.Context, time.Time) (int, error) { return 0, nil }

// Wait blocks until buffered writes are applied.
func (s *Store) Wait() { s.c.Wait() }

func (s *Store) Close(_ context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes ristretto's counters when Config.Metrics is set.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }
