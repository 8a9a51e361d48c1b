package infra

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"workcoord/coordination/domain"
)

// AdmissionSlots é um semáforo de contagem cuja capacidade muda em runtime.
//
// Estado: used (vagas em uso), available (vagas livres) e max (capacidade
// configurada via ChangeMax). Antes do primeiro ChangeMax a capacidade é
// apenas o valor inicial de available.
//
// Esperas são FIFO: cada Release acorda no máximo um waiter por vaga liberada.
type AdmissionSlots struct {
	mu        sync.Mutex
	used      int
	available int
	max       int
	bounded   bool // true após o primeiro ChangeMax
	waiters   list.List

	sink domain.DiagnosticSink
}

type SlotsOption func(*AdmissionSlots)

// WithSlotsSink define onde reportar release duplicado.
func WithSlotsSink(sink domain.DiagnosticSink) SlotsOption {
	return func(s *AdmissionSlots) { s.sink = sink }
}

// NewAdmissionSlots cria o semáforo com `initialAvailable` vagas livres.
func NewAdmissionSlots(initialAvailable int, opts ...SlotsOption) (*AdmissionSlots, error) {
	if initialAvailable < 0 {
		return nil, domain.Configf("initial available slots must be >= 0, got %d", initialAvailable)
	}
	s := &AdmissionSlots{available: initialAvailable, sink: NopSink{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ChangeMax implementa domain.SlotPool.
//
// Se used > newMax, available fica 0 até que vagas suficientes sejam liberadas.
func (s *AdmissionSlots) ChangeMax(newMax int) error {
	if newMax < 0 {
		return domain.Configf("max slots must be >= 0, got %d", newMax)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.max = newMax
	s.bounded = true
	s.available = max(0, s.max-s.used)
	s.grantLocked()
	return nil
}

// Acquire implementa domain.SlotPool.
func (s *AdmissionSlots) Acquire(ctx context.Context) (domain.Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Cancelled(err)
	}

	s.mu.Lock()
	if s.available > 0 && s.waiters.Len() == 0 {
		s.takeLocked()
		s.mu.Unlock()
		return s.newRelease(), nil
	}

	ready := make(chan struct{})
	elem := s.waiters.PushBack(ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return s.newRelease(), nil

	case <-ctx.Done():
		s.mu.Lock()
		select {
		case <-ready:
			// vaga concedida junto com o cancelamento: devolve sem efeito colateral
			s.releaseLocked()
		default:
			front := s.waiters.Front() == elem
			s.waiters.Remove(elem)
			if front {
				s.grantLocked()
			}
		}
		s.mu.Unlock()
		return nil, domain.Cancelled(ctx.Err())
	}
}

// TryAcquire tenta adquirir sem bloquear.
func (s *AdmissionSlots) TryAcquire() (domain.Release, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.available <= 0 || s.waiters.Len() > 0 {
		return nil, false
	}
	s.takeLocked()
	return s.newRelease(), true
}

func (s *AdmissionSlots) Used() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *AdmissionSlots) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Max é a capacidade efetiva. Antes do primeiro ChangeMax é used+available,
// ou seja, o valor inicial de available; Used() nunca passa de Max().
func (s *AdmissionSlots) Max() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bounded {
		return s.used + s.available
	}
	return s.max
}

// Waiting devolve quantos Acquire estão suspensos.
func (s *AdmissionSlots) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

func (s *AdmissionSlots) newRelease() domain.Release {
	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			s.sink.ReportInvariantViolation(domain.ErrDoubleRelease.Error(), map[string]any{
				"component": "admission_slots",
			})
			return
		}
		s.mu.Lock()
		s.releaseLocked()
		s.mu.Unlock()
	}
}

func (s *AdmissionSlots) takeLocked() {
	s.available--
	s.used++
}

func (s *AdmissionSlots) releaseLocked() {
	s.used--
	if s.bounded {
		s.available = max(0, s.max-s.used)
	} else {
		s.available++
	}
	s.grantLocked()
}

// grantLocked entrega vagas livres aos waiters em ordem de chegada.
func (s *AdmissionSlots) grantLocked() {
	for s.available > 0 {
		front := s.waiters.Front()
		if front == nil {
			return
		}
		s.waiters.Remove(front)
		s.takeLocked()
		close(front.Value.(chan struct{}))
	}
}
