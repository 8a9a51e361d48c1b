package domain

import (
	"context"
	"time"
)

type EventKind string

const (
	EventExecuted      EventKind = "executed"
	EventCoalesced     EventKind = "coalesced"
	EventCancelled     EventKind = "cancelled"
	EventFailed        EventKind = "failed"
	EventFrameEnqueued EventKind = "frame_enqueued"
	EventFrameDropped  EventKind = "frame_dropped"
	EventViolation     EventKind = "invariant_violation"
)

// StatsEvent representa um evento de coordenação (execução, coalescência, descarte de frame).
//
// Observação: cuidado com cardinalidade de Key (ex.: salvar toda chave de
// debounce pode explodir o número de chaves em uma base como Redis).
type StatsEvent struct {
	Kind  EventKind
	Key   string
	Count int64

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas.
//
// Implementações podem armazenar em Redis, memória, etc.
// Os componentes tratam erro como best-effort (nunca derrubam a operação).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
