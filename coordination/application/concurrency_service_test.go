package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"workcoord/coordination/domain"
)

type blockingPool struct {
	fakePool
}

func (p *blockingPool) Acquire(ctx context.Context) (domain.Release, error) {
	select {
	case <-ctx.Done():
		return nil, domain.Cancelled(ctx.Err())
	case <-time.After(5 * time.Second):
		// não deve chegar aqui nos testes
		return nil, errors.New("unexpected")
	}
}

type immediatePool struct {
	fakePool
	acquired int
}

func (p *immediatePool) Acquire(ctx context.Context) (domain.Release, error) {
	p.acquired++
	return func() {}, nil
}

// fakePool cobre o resto de domain.SlotPool para os fakes acima.
type fakePool struct {
	max int
}

func (p *fakePool) ChangeMax(n int) error { p.max = n; return nil }
func (p *fakePool) Used() int             { return 0 }
func (p *fakePool) Available() int        { return p.max }
func (p *fakePool) Max() int              { return p.max }

func TestConcurrencyService_Acquire_AllowsWhenNoPool(t *testing.T) {
	svc := ConcurrencyService{}
	release, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	release()
}

func TestConcurrencyService_Acquire_UsesTimeout(t *testing.T) {
	pool := &blockingPool{}
	svc := ConcurrencyService{Pool: pool, AcquireTimeout: 10 * time.Millisecond}

	_, err := svc.Acquire(context.Background())
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected cancelled error on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause to be kept, got %v", err)
	}
}

func TestConcurrencyService_Acquire_NoTimeoutDelegatesToPool(t *testing.T) {
	pool := &immediatePool{}
	svc := ConcurrencyService{Pool: pool, AcquireTimeout: 0}

	_, err := svc.Acquire(context.Background())
	if err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if pool.acquired != 1 {
		t.Fatalf("expected pool Acquire to be called once, got %d", pool.acquired)
	}
}
