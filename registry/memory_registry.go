package registry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is an in-process Registry for tests and single-binary setups.
// Entries do not expire; ttl is accepted and ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]ServiceInstance // service → addr → instance
	watchers map[string][]chan []ServiceInstance
	closed   bool
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]ServiceInstance),
		watchers: make(map[string][]chan []ServiceInstance),
	}
}

func (m *MemoryRegistry) Register(_ context.Context, serviceName string, instance ServiceInstance, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	addrs, ok := m.services[serviceName]
	if !ok {
		addrs = make(map[string]ServiceInstance)
		m.services[serviceName] = addrs
	}
	addrs[instance.Addr] = instance
	m.notify(serviceName)
	return nil
}

func (m *MemoryRegistry) Deregister(_ context.Context, serviceName, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.services[serviceName][addr]; ok {
		delete(m.services[serviceName], addr)
		m.notify(serviceName)
	}
	return nil
}

// Discover returns the instances ordered by address.
func (m *MemoryRegistry) Discover(_ context.Context, serviceName string) ([]ServiceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.list(serviceName), nil
}

func (m *MemoryRegistry) list(serviceName string) []ServiceInstance {
	addrs := m.services[serviceName]
	out := make([]ServiceInstance, 0, len(addrs))
	for _, inst := range addrs {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Watch sends the current list immediately, then the new list after each
// change. A slow reader only ever sees the latest list.
func (m *MemoryRegistry) Watch(ctx context.Context, serviceName string) (<-chan []ServiceInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	ch := make(chan []ServiceInstance, 1)
	ch <- m.list(serviceName)
	m.watchers[serviceName] = append(m.watchers[serviceName], ch)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeWatcher(serviceName, ch)
	}()
	return ch, nil
}

// notify must be called with mu held.
func (m *MemoryRegistry) notify(serviceName string) {
	for _, ch := range m.watchers[serviceName] {
		select {
		case <-ch: // drop the stale list
		default:
		}
		ch <- m.list(serviceName)
	}
}

// removeWatcher must be called with mu held.
func (m *MemoryRegistry) removeWatcher(serviceName string, ch chan []ServiceInstance) {
	ws := m.watchers[serviceName]
	for i, w := range ws {
		if w == ch {
			m.watchers[serviceName] = append(ws[:i], ws[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close closes every watch channel.
func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for name, ws := range m.watchers {
		for _, ch := range ws {
			close(ch)
		}
		delete(m.watchers, name)
	}
	return nil
}
