package transport

// Pool is a bounded set of reusable resources, here multiplexed transports to a
// single address. A buffered channel serves as the free list: it is FIFO,
// goroutine-safe and gives blocking on empty for free.

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolClosed = errors.New("transport: pool closed")

// Pool hands out up to max resources created lazily by factory.
type Pool[T any] struct {
	mu      sync.Mutex
	items   chan T // idle resources
	size    int    // resources created and not yet discarded
	max     int
	closed  bool
	factory func(context.Context) (T, error)
	destroy func(T) error
}

// NewPool creates an empty pool. Resources are created on demand, up to max.
func NewPool[T any](max int, factory func(context.Context) (T, error), destroy func(T) error) *Pool[T] {
	if max < 1 {
		max = 1
	}
	return &Pool[T]{
		items:   make(chan T, max),
		max:     max,
		factory: factory,
		destroy: destroy,
	}
}

// Get returns an idle resource, creates one while under the limit, or waits for
// one to be returned.
func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case it, ok := <-p.items:
		if !ok {
			return zero, ErrPoolClosed
		}
		return it, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrPoolClosed
	}
	if p.size < p.max {
		p.size++
		p.mu.Unlock()
		it, err := p.factory(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return zero, err
		}
		return it, nil
	}
	p.mu.Unlock()

	select {
	case it, ok := <-p.items:
		if !ok {
			return zero, ErrPoolClosed
		}
		return it, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Put returns a resource to the pool. After Close it is destroyed instead.
func (p *Pool[T]) Put(it T) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.size--
		p.destroy(it)
		return
	}
	// Never blocks: idle resources never outnumber created ones.
	p.items <- it
}

// Discard destroys a broken resource and frees its slot.
func (p *Pool[T]) Discard(it T) {
	p.mu.Lock()
	p.size--
	p.mu.Unlock()
	p.destroy(it)
}

// Size reports how many resources exist, idle or in use.
func (p *Pool[T]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Close destroys the idle resources. Resources still in use are destroyed when
// they are returned.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.items)
	var errs []error
	for it := range p.items {
		p.size--
		errs = append(errs, p.destroy(it))
	}
	return errors.Join(errs...)
}
