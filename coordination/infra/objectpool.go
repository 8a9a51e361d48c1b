package infra

import (
	"sync"

	"workcoord/coordination/domain"
)

// FuncPolicy adapta três funções para domain.RecyclePolicy.
// CleanFn nil devolve o item como está; DisposeFn nil não faz nada.
type FuncPolicy[T any] struct {
	CreateFn  func() T
	CleanFn   func(T) T
	DisposeFn func(T)
}

func (p FuncPolicy[T]) Create() T {
	if p.CreateFn == nil {
		var zero T
		return zero
	}
	return p.CreateFn()
}

func (p FuncPolicy[T]) Clean(item T) T {
	if p.CleanFn == nil {
		return item
	}
	return p.CleanFn(item)
}

func (p FuncPolicy[T]) Dispose(item T) {
	if p.DisposeFn != nil {
		p.DisposeFn(item)
	}
}

// SyncPool implementa domain.ObjectPool sobre sync.Pool.
// Itens são limpos (policy.Clean) no Return; Get cria via policy.Create quando vazio.
//
// Observação: prefira T ponteiro; Put de tipos valor aloca.
type SyncPool[T any] struct {
	pool   sync.Pool
	policy domain.RecyclePolicy[T]
}

func NewSyncPool[T any](policy domain.RecyclePolicy[T]) *SyncPool[T] {
	return &SyncPool[T]{policy: policy}
}

func (p *SyncPool[T]) Get() T {
	if v := p.pool.Get(); v != nil {
		return v.(T)
	}
	return p.policy.Create()
}

func (p *SyncPool[T]) Return(item T) {
	p.pool.Put(p.policy.Clean(item))
}

// HeapPool usa o heap como pool: Get sempre aloca, Return descarta.
type HeapPool[T any] struct {
	New func() T
}

func NewHeapPool[T any](newFn func() T) HeapPool[T] {
	return HeapPool[T]{New: newFn}
}

func (p HeapPool[T]) Get() T    { return p.New() }
func (p HeapPool[T]) Return(T) {}
