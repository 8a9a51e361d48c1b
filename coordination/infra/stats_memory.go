package infra

import (
	"context"
	"sync"

	"workcoord/coordination/domain"
)

// Counters agrega eventos por tipo.
type Counters map[domain.EventKind]int64

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes, para o binário de demonstração e desenvolvimento.
//
// Não faz expiração.
type MemoryStatsStore struct {
	mu    sync.Mutex
	total Counters
	byKey map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		total: make(Counters),
		byKey: make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	n := ev.Count
	if n == 0 {
		n = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[ev.Kind] += n
	if s.trackKeys && ev.Key != "" {
		c := s.byKey[ev.Key]
		if c == nil {
			c = make(Counters)
			s.byKey[ev.Key] = c
		}
		c[ev.Kind] += n
	}
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Counters, len(s.total))
	for k, v := range s.total {
		out[k] = v
	}
	return out
}

func (s *MemoryStatsStore) ByKey() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(s.byKey))
	for key, c := range s.byKey {
		cp := make(Counters, len(c))
		for k, v := range c {
			cp[k] = v
		}
		out[key] = cp
	}
	return out
}
