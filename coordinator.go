package tiercache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// PressureLevel is a host memory-pressure signal.
type PressureLevel uint8

const (
	PressureModerate PressureLevel = iota + 1
	PressureCritical
)

func (l PressureLevel) String() string {
	switch l {
	case PressureModerate:
		return "moderate"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ratio is the share of configured capacity kept at each level.
func (l PressureLevel) ratio() float64 {
	switch l {
	case PressureModerate:
		return 0.5
	case PressureCritical:
		return 0.25
	default:
		return 1
	}
}

type CoordinatorOptions struct {
	Retention time.Duration   // durable records older than this are compacted; 0 => 7d
	Interval  time.Duration   // idle cleanup period for Start; 0 => 15m
	Clock     clockwork.Clock // nil => real clock
	Logger    Logger          // if nil, NopLogger is used
}

// Coordinator fans host memory signals out to registered caches and runs
// periodic idle cleanup.
type Coordinator struct {
	retention time.Duration
	interval  time.Duration
	clock     clockwork.Clock
	log       Logger

	mu     sync.Mutex
	caches []Trimmable

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	return &Coordinator{
		retention: coalesce(opts.Retention, defaultRetention),
		interval:  coalesce(opts.Interval, defaultCleanupInterval),
		clock:     coalesce[clockwork.Clock](opts.Clock, clockwork.NewRealClock()),
		log:       coalesce[Logger](opts.Logger, NopLogger{}),
		stopCh:    make(chan struct{}),
	}
}

func (c *Coordinator) Register(t Trimmable) {
	c.mu.Lock()
	c.caches = append(c.caches, t)
	c.mu.Unlock()
}

func (c *Coordinator) snapshot() []Trimmable {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Trimmable(nil), c.caches...)
}

// OnMemoryPressure shrinks every cache for level and returns the total
// number of evicted entries.
func (c *Coordinator) OnMemoryPressure(level PressureLevel) int {
	total := 0
	for _, t := range c.snapshot() {
		total += t.Shrink(level.ratio())
	}
	c.log.Info("memory pressure handled", Fields{"level": level.String(), "evicted": total})
	return total
}

// OnIdleCleanup restores configured capacities and compacts every durable
// tier. Errors from individual caches are joined.
func (c *Coordinator) OnIdleCleanup(ctx context.Context) error {
	cutoff := c.clock.Now().Add(-c.retention)
	var errs []error
	removed := 0
	for _, t := range c.snapshot() {
		t.Restore()
		n, err := t.Compact(ctx, cutoff)
		removed += n
		if err != nil {
			errs = append(errs, fmt.Errorf("compact %s: %w", t.Namespace(), err))
		}
	}
	c.log.Debug("idle cleanup", Fields{"removed": removed, "cutoff": cutoff})
	return errors.Join(errs...)
}

// Start runs OnIdleCleanup every Interval until Close or ctx ends.
func (c *Coordinator) Start(ctx context.Context) {
	t := c.clock.NewTicker(c.interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer t.Stop()
		for {
			select {
			case <-t.Chan():
				if err := c.OnIdleCleanup(ctx); err != nil {
					c.log.Warn("idle cleanup failed", Fields{"err": err})
				}
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Close stops the cleanup loop. Safe to call multiple times.
func (c *Coordinator) Close() {
	c.once.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}
