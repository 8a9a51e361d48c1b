package infra

import (
	"context"
	"sync"

	"workcoord/coordination/domain"
)

// RecycleChannel é uma fila FIFO limitada (ring buffer de capacidade C) com um
// pool lateral ilimitado de itens livres.
//
// Cada WriteAndSwap devolve ao escritor uma instância limpa (do pool, recém
// criada ou o item mais antigo expulso), então em regime o escritor e o leitor
// nunca alocam. A expulsão remove o item mais antigo *enfileirado*, que pode
// não ser o mais antigo *criado* (itens reciclados voltam a circular).
//
// Depois de Dispose:
//   - WriteAndSwap limpa o item e o devolve com ErrDisposed (não enfileira)
//   - Read/ReadAndSwap falham imediatamente com ErrDisposed, inclusive leitores
//     que já estavam bloqueados
//   - Recycle descarta o item (policy.Dispose)
type RecycleChannel[T any] struct {
	policy domain.RecyclePolicy[T]

	mu       sync.Mutex
	buf      []T
	head     int
	count    int
	free     []T
	evicted  uint64
	disposed bool

	notify chan struct{}
	done   chan struct{}
}

type RecycleOption func(*recycleConfig)

type recycleConfig struct {
	prealloc int
}

// WithPrealloc cria n instâncias no pool lateral já na construção.
func WithPrealloc(n int) RecycleOption {
	return func(c *recycleConfig) { c.prealloc = n }
}

var _ domain.RecycleQueue[int] = (*RecycleChannel[int])(nil)

func NewRecycleChannel[T any](capacity int, policy domain.RecyclePolicy[T], opts ...RecycleOption) (*RecycleChannel[T], error) {
	if capacity < 1 {
		return nil, domain.Configf("recycle channel capacity must be >= 1, got %d", capacity)
	}
	if policy == nil {
		return nil, domain.Configf("recycle channel requires a policy")
	}

	var cfg recycleConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &RecycleChannel[T]{
		policy: policy,
		buf:    make([]T, capacity),
		free:   make([]T, 0, max(cfg.prealloc, capacity)),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for i := 0; i < cfg.prealloc; i++ {
		c.free = append(c.free, policy.Create())
	}
	return c, nil
}

// WriteAndSwap implementa domain.RecycleQueue.
func (c *RecycleChannel[T]) WriteAndSwap(item T) (T, error) {
	var (
		out     T
		zero    T
		evicted bool
		pooled  bool
	)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return c.policy.Clean(item), domain.ErrDisposed
	}

	if c.count == len(c.buf) {
		out = c.buf[c.head]
		c.buf[c.head] = zero
		c.head = (c.head + 1) % len(c.buf)
		c.count--
		c.evicted++
		evicted = true
	} else if n := len(c.free); n > 0 {
		out = c.free[n-1]
		c.free[n-1] = zero
		c.free = c.free[:n-1]
		pooled = true
	}

	c.buf[(c.head+c.count)%len(c.buf)] = item
	c.count++
	c.mu.Unlock()

	c.signal()

	switch {
	case evicted:
		// posse exclusiva do item expulso: limpa fora da região crítica
		return c.policy.Clean(out), nil
	case pooled:
		return out, nil
	default:
		return c.policy.Create(), nil
	}
}

// Read implementa domain.RecycleQueue.
func (c *RecycleChannel[T]) Read(ctx context.Context) (T, error) {
	for {
		item, ok, err := c.pop()
		if ok || err != nil {
			return item, err
		}

		select {
		case <-c.notify:
		case <-c.done:
		case <-ctx.Done():
			var zero T
			return zero, domain.Cancelled(ctx.Err())
		}
	}
}

// ReadAndSwap implementa domain.RecycleQueue.
func (c *RecycleChannel[T]) ReadAndSwap(ctx context.Context, recycle T) (T, error) {
	c.Recycle(recycle)
	return c.Read(ctx)
}

// TryRead implementa domain.RecycleQueue.
func (c *RecycleChannel[T]) TryRead() (T, bool) {
	item, ok, _ := c.pop()
	return item, ok
}

// Recycle implementa domain.RecycleQueue.
func (c *RecycleChannel[T]) Recycle(item T) {
	cleaned := c.policy.Clean(item)

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		c.policy.Dispose(cleaned)
		return
	}
	c.free = append(c.free, cleaned)
	c.mu.Unlock()
}

// Dispose esvazia fila e pool, limpando e descartando cada item. Idempotente.
func (c *RecycleChannel[T]) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true

	queued := make([]T, 0, c.count)
	var zero T
	for c.count > 0 {
		queued = append(queued, c.buf[c.head])
		c.buf[c.head] = zero
		c.head = (c.head + 1) % len(c.buf)
		c.count--
	}
	free := c.free
	c.free = nil
	close(c.done)
	c.mu.Unlock()

	for _, item := range queued {
		c.policy.Dispose(c.policy.Clean(item))
	}
	for _, item := range free {
		c.policy.Dispose(item)
	}
}

// Len é o número de itens enfileirados (nunca maior que Cap).
func (c *RecycleChannel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *RecycleChannel[T]) Cap() int { return len(c.buf) }

// Pooled é o número de itens livres no pool lateral.
func (c *RecycleChannel[T]) Pooled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.free)
}

func (c *RecycleChannel[T]) Evicted() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

func (c *RecycleChannel[T]) pop() (T, bool, error) {
	var zero T

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		if c.disposed {
			return zero, false, domain.ErrDisposed
		}
		return zero, false, nil
	}

	item := c.buf[c.head]
	c.buf[c.head] = zero
	c.head = (c.head + 1) % len(c.buf)
	c.count--
	return item, true, nil
}

func (c *RecycleChannel[T]) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
