package infra

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"workcoord/coordination/domain"

	"github.com/rs/zerolog"
)

// LogSink é o DiagnosticSink de produção: loga cada violação em nível error.
//
// Com WithThrottle, mensagens repetidas são limitadas por um token bucket por
// mensagem (Throttle); o excedente é contado em Suppressed e o próximo log da
// mesma mensagem traz o campo "held" com quantas foram omitidas.
// Com WithStrict(true) a violação aborta (panic) depois de logada; use em
// testes e builds de verificação.
type LogSink struct {
	logger   zerolog.Logger
	throttle *Throttle
	stats    domain.StatsStore
	strict   bool

	suppressed atomic.Uint64
}

type LogSinkOption func(*LogSink)

func WithStrict(strict bool) LogSinkOption {
	return func(s *LogSink) { s.strict = strict }
}

func WithThrottle(throttle *Throttle) LogSinkOption {
	return func(s *LogSink) { s.throttle = throttle }
}

func WithSinkStats(stats domain.StatsStore) LogSinkOption {
	return func(s *LogSink) { s.stats = stats }
}

func NewLogSink(logger zerolog.Logger, opts ...LogSinkOption) *LogSink {
	s := &LogSink{logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LogSink) ReportInvariantViolation(message string, fields map[string]any) {
	if s.stats != nil {
		_ = s.stats.Record(context.Background(), domain.StatsEvent{
			Kind:  domain.EventViolation,
			Count: 1,
			At:    time.Now(),
		})
	}

	var held uint64
	if s.throttle != nil && !s.strict {
		ok, n := s.throttle.Allow(message)
		if !ok {
			s.suppressed.Add(1)
			return
		}
		held = n
	}

	ev := s.logger.Error().
		Str("kind", string(domain.EventViolation)).
		Fields(fields)
	if held > 0 {
		ev = ev.Uint64("held", held)
	}
	ev.Msg(message)

	if s.strict {
		panic(fmt.Sprintf("invariant violation: %s", message))
	}
}

// Suppressed é o total de violações não logadas por throttle.
func (s *LogSink) Suppressed() uint64 { return s.suppressed.Load() }

// NopSink descarta tudo.
type NopSink struct{}

func (NopSink) ReportInvariantViolation(string, map[string]any) {}

// Violation é uma violação capturada por RecordingSink.
type Violation struct {
	Message string
	Fields  map[string]any
}

// RecordingSink guarda as violações em memória. Útil para testes.
type RecordingSink struct {
	mu         sync.Mutex
	violations []Violation
}

func (s *RecordingSink) ReportInvariantViolation(message string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, Violation{Message: message, Fields: fields})
}

func (s *RecordingSink) Violations() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Violation, len(s.violations))
	copy(out, s.violations)
	return out
}
