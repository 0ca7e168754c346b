package tiercache

import (
	"context"
	"sync"
)

// persister is a bounded FIFO of durable writes served by one worker.
// enqueue never blocks; a full queue rejects the job.
type persister[V any] struct {
	ch    chan persistJob[V]
	write func(*node[V])
	done  chan struct{}

	mu     sync.RWMutex // guards closed vs sends on ch
	closed bool
}

// persistJob carries a node to write, or an ack channel when it is a
// flush barrier.
type persistJob[V any] struct {
	n   *node[V]
	ack chan struct{}
}

func newPersister[V any](size int, write func(*node[V])) *persister[V] {
	p := &persister[V]{
		ch:    make(chan persistJob[V], size),
		write: write,
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister[V]) run() {
	defer close(p.done)
	for j := range p.ch {
		if j.ack != nil {
			close(j.ack)
			continue
		}
		p.write(j.n)
	}
}

func (p *persister[V]) enqueue(n *node[V]) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- persistJob[V]{n: n}:
		return true
	default: // drop
		return false
	}
}

// flush returns once every job enqueued before the call has been handled.
func (p *persister[V]) flush(ctx context.Context) error {
	ack := make(chan struct{})

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return p.wait(ctx)
	}
	select {
	case p.ch <- persistJob[V]{ack: ack}:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops intake and waits for the worker to drain.
func (p *persister[V]) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mu.Unlock()
	return p.wait(ctx)
}

func (p *persister[V]) wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
