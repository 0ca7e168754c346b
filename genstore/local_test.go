package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestLocalSnapshotZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(nil, 0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	for i := 0; i < 2; i++ {
		if _, err := s.Bump(ctx, "b"); err != nil {
			t.Fatal(err)
		}
	}

	a, _ := s.Snapshot(ctx, "a")
	b, _ := s.Snapshot(ctx, "b")
	if a != 0 || b != 2 {
		t.Fatalf("got a=%d b=%d want a=0 b=2", a, b)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := NewLocal(clock, 0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	if _, err := s.Bump(ctx, "new"); err != nil {
		t.Fatal(err)
	}

	if n := s.Cleanup(clock.Now().Add(-time.Hour)); n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "new"); g != 1 {
		t.Fatalf("expected new kept at 1, got %d", g)
	}
}

func TestLocalCleanupLoop(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := NewLocal(clock, time.Minute, time.Hour)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "k"); err != nil {
		t.Fatal(err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(waitCtx, 1); err != nil {
		t.Fatalf("ticker never armed: %v", err)
	}
	clock.Advance(2 * time.Hour)

	deadline := time.Now().Add(5 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("cleanup loop did not prune")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLocalCloseIdempotent(t *testing.T) {
	s := NewLocal(clockwork.NewFakeClock(), time.Minute, time.Hour)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
