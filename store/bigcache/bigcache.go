// Package bigcache is a Store on allegro/bigcache. BigCache expires entries
// on its own LifeWindow; each value is stored behind an 8-byte creation stamp
// so DeleteOlderThan can walk the iterator. The stamp is stripped on Get.
package bigcache

import (
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tiercache/store"
)

const stampLen = 8

type Store struct {
	c *bc.BigCache
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Scanner = (*Store)(nil)
)

type Config struct {
	LifeWindow         time.Duration // default 7 days
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 7 * 24 * time.Hour
	}
	conf := bc.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(b) < stampLen {
		// not ours; drop it
		_ = s.c.Delete(key)
		return nil, false, nil
	}
	return b[stampLen:], true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, meta store.Meta) error {
	buf := make([]byte, stampLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(meta.CreatedAt.UnixNano()))
	copy(buf[stampLen:], value)
	return s.c.Set(key, buf)
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := s.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil
	}
	return err
}

func (s *Store) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	var victims []string
	limit := cutoff.UnixNano()
	it := s.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			continue // entry vanished mid-iteration
		}
		v := e.Value()
		if len(v) < stampLen || int64(binary.BigEndian.Uint64(v)) < limit {
			victims = append(victims, e.Key())
		}
	}

	n := 0
	for _, k := range victims {
		if err := s.c.Delete(k); err == nil {
			n++
		}
	}
	return n, nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	it := s.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			continue
		}
		if k := e.Key(); strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) Close(_ context.Context) error {
	return s.c.Close()
}
