package tiercache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waiters[V any](g *Gate[V], key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.calls[key]; ok {
		return c.waiters
	}
	return 0
}

func TestGateCollapsesConcurrentCalls(t *testing.T) {
	g := NewGate[string](GateOptions{})
	release := make(chan struct{})
	var calls atomic.Int32

	const n = 16
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Fetch(context.Background(), "k", func(context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "v", nil
			})
		}(i)
	}
	waitFor(t, "all waiters", func() bool { return waiters(g, "k") == n })
	if g.InFlight() != 1 {
		t.Fatalf("InFlight = %d want 1", g.InFlight())
	}
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("fn called %d times want 1", calls.Load())
	}
	for i := range results {
		if errs[i] != nil || results[i] != "v" {
			t.Fatalf("caller %d got %q, %v", i, results[i], errs[i])
		}
	}
	if g.InFlight() != 0 {
		t.Fatalf("marker not cleared")
	}
}

func TestGateSharesError(t *testing.T) {
	g := NewGate[int](GateOptions{})
	boom := errors.New("boom")
	release := make(chan struct{})

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Fetch(context.Background(), "k", func(context.Context) (int, error) {
				<-release
				return 0, boom
			})
			if errors.Is(err, boom) {
				failed.Add(1)
			}
		}()
	}
	waitFor(t, "all waiters", func() bool { return waiters(g, "k") == 4 })
	close(release)
	wg.Wait()

	if failed.Load() != 4 {
		t.Fatalf("expected every caller to see the shared error, got %d", failed.Load())
	}
}

func TestGateRunsAgainAfterCompletion(t *testing.T) {
	g := NewGate[int](GateOptions{})
	var calls atomic.Int32
	fn := func(context.Context) (int, error) { return int(calls.Add(1)), nil }

	a, _ := g.Fetch(context.Background(), "k", fn)
	b, _ := g.Fetch(context.Background(), "k", fn)
	if a != 1 || b != 2 {
		t.Fatalf("sequential fetches must not share: %d, %d", a, b)
	}
}

func TestGateWaiterCancelKeepsFetch(t *testing.T) {
	g := NewGate[string](GateOptions{Policy: CancelNever})
	release := make(chan struct{})
	fetchErr := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := g.Fetch(ctx, "k", func(fctx context.Context) (string, error) {
			<-release
			fetchErr <- fctx.Err()
			return "v", nil
		})
		done <- err
	}()
	waitFor(t, "waiter", func() bool { return waiters(g, "k") == 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("waiter should see its own cancellation, got %v", err)
	}
	if g.InFlight() != 1 {
		t.Fatalf("fetch must keep running after the waiter left")
	}
	close(release)
	if err := <-fetchErr; err != nil {
		t.Fatalf("shared context must not be cancelled, got %v", err)
	}
	waitFor(t, "marker cleared", func() bool { return g.InFlight() == 0 })
}

func TestGateCancelWhenAbandoned(t *testing.T) {
	g := NewGate[string](GateOptions{Policy: CancelWhenAbandoned})
	started := make(chan struct{})
	fetchErr := make(chan error, 1)

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	fn := func(fctx context.Context) (string, error) {
		close(started)
		<-fctx.Done()
		fetchErr <- fctx.Err()
		return "", fctx.Err()
	}

	var wg sync.WaitGroup
	for _, ctx := range []context.Context{ctxA, ctxB} {
		wg.Add(1)
		go func(ctx context.Context) {
			defer wg.Done()
			_, _ = g.Fetch(ctx, "k", fn)
		}(ctx)
	}
	<-started
	waitFor(t, "both waiters", func() bool { return waiters(g, "k") == 2 })

	cancelA()
	waitFor(t, "first waiter gone", func() bool { return waiters(g, "k") == 1 })
	select {
	case err := <-fetchErr:
		t.Fatalf("fetch cancelled while a waiter remained: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	cancelB()
	if err := <-fetchErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("last waiter leaving must cancel the fetch, got %v", err)
	}
	wg.Wait()
	waitFor(t, "marker cleared", func() bool { return g.InFlight() == 0 })
}

func TestGateTimeout(t *testing.T) {
	g := NewGate[string](GateOptions{Timeout: 10 * time.Millisecond})
	_, err := g.Fetch(context.Background(), "k", func(fctx context.Context) (string, error) {
		<-fctx.Done()
		return "", fctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestGateDetachesFromStarterContext(t *testing.T) {
	g := NewGate[string](GateOptions{})
	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "trace-1")

	v, err := g.Fetch(ctx, "k", func(fctx context.Context) (string, error) {
		s, _ := fctx.Value(ctxKey{}).(string)
		return s, nil
	})
	if err != nil || v != "trace-1" {
		t.Fatalf("shared context should keep the starter's values, got %q, %v", v, err)
	}
}
