package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limita relatos repetidos por chave com um token bucket
// (x/time/rate) para cada chave. Guarda quantos relatos de cada chave foram
// segurados desde o último liberado, para que o próximo log diga quantos
// foram omitidos.
type Throttle struct {
	mu      sync.Mutex
	keys    map[string]*throttled
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	every   time.Duration
}

type throttled struct {
	lim      *rate.Limiter
	held     uint64
	lastSeen time.Time
}

type ThrottleOption func(*Throttle)

// WithIdleTTL define após quanto tempo sem relatos a chave é esquecida.
func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.idleTTL = d }
}

// WithSweepEvery define o intervalo de Run; <= 0 desliga a varredura.
func WithSweepEvery(d time.Duration) ThrottleOption {
	return func(t *Throttle) { t.every = d }
}

// NewThrottle libera até burst relatos imediatos por chave e depois rps por segundo.
func NewThrottle(rps float64, burst int, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		keys:    make(map[string]*throttled),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		every:   time.Minute,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allow informa se o relato de key pode ser emitido agora. Quando pode,
// held é o número de relatos segurados desde o último liberado.
func (t *Throttle) Allow(key string) (ok bool, held uint64) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	k, found := t.keys[key]
	if !found {
		k = &throttled{lim: rate.NewLimiter(t.limit, t.burst)}
		t.keys[key] = k
	}
	k.lastSeen = now

	if !k.lim.AllowN(now, 1) {
		k.held++
		return false, 0
	}
	held, k.held = k.held, 0
	return true, held
}

// Len é o número de chaves conhecidas.
func (t *Throttle) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}

// Sweep esquece chaves sem relatos desde now-idleTTL e devolve quantas saíram.
func (t *Throttle) Sweep(now time.Time) int {
	cutoff := now.Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, k := range t.keys {
		if k.lastSeen.Before(cutoff) {
			delete(t.keys, key)
			removed++
		}
	}
	return removed
}

// Run varre chaves ociosas periodicamente até ctx encerrar.
func (t *Throttle) Run(ctx context.Context) {
	if t.every <= 0 {
		return
	}

	ticker := time.NewTicker(t.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.Sweep(now)
		}
	}
}
