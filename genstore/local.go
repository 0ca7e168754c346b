package genstore

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type localGenEntry struct {
	Gen       uint64
	UpdatedAt time.Time
}

// Local keeps generations in-process with an optional cleanup loop that
// prunes entries not bumped within the retention window.
//
// Pruning resets a key to generation 0. That is safe as long as no fetch
// outlives the retention window, which holds for any sane retention.
type Local struct {
	mu    sync.RWMutex
	gens  map[string]localGenEntry
	clock clockwork.Clock

	ticker clockwork.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

var _ GenStore = (*Local)(nil)

// NewLocal returns an in-process GenStore. When both cleanupInterval and
// retention are positive a background loop prunes stale generations.
// A nil clock means the real clock.
func NewLocal(clock clockwork.Clock, cleanupInterval, retention time.Duration) *Local {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Local{
		gens:  make(map[string]localGenEntry),
		clock: clock,
	}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = clock.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.Chan():
					s.Cleanup(s.clock.Now().Add(-retention))
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e := s.gens[k]
	s.mu.RUnlock()
	return e.Gen, nil
}

func (s *Local) Bump(_ context.Context, k string) (uint64, error) {
	now := s.clock.Now()
	s.mu.Lock()
	e := s.gens[k]
	e.Gen++
	e.UpdatedAt = now
	s.gens[k] = e
	s.mu.Unlock()
	return e.Gen, nil
}

func (s *Local) Cleanup(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.gens {
		if e.UpdatedAt.Before(cutoff) {
			delete(s.gens, k)
			n++
		}
	}
	return n
}

// Len reports how many keys carry a non-zero generation.
func (s *Local) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *Local) Close(_ context.Context) error {
	s.once.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
	})
	return nil
}
