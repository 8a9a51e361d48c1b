package application

import (
	"context"
	"time"

	"workcoord/coordination/domain"
)

// ConcurrencyService concentra a regra de aquisição/liberação de vagas com timeout.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Em caso de erro nenhuma vaga foi adquirida; o erro satisfaz errors.Is(err, domain.ErrCancelled).
func (s ConcurrencyService) Acquire(ctx context.Context) (domain.Release, error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	if s.AcquireTimeout <= 0 {
		return s.Pool.Acquire(ctx)
	}

	acqCtx, cancel := context.WithTimeout(ctx, s.AcquireTimeout)
	defer cancel()
	return s.Pool.Acquire(acqCtx)
}
