// Package memory is an in-process Store backed by a map. It does not survive
// restarts; use it for tests and hosts without a writable disk.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/unkn0wn-root/tiercache/store"
)

type item struct {
	v    []byte
	meta store.Meta
}

type Store struct {
	mu sync.RWMutex
	m  map[string]item
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Scanner = (*Store)(nil)
)

func New() *Store { return &Store{m: make(map[string]item)} }

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	it, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), it.v...), true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte, meta store.Meta) error {
	cp := append([]byte(nil), value...)
	s.mu.Lock()
	s.m[key] = item{v: cp, meta: meta}
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Store) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, it := range s.m {
		if it.meta.CreatedAt.Before(cutoff) {
			delete(s.m, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// Len reports the number of stored values.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *Store) Close(context.Context) error { return nil }
