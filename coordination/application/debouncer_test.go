package application

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"workcoord/coordination/domain"
	"workcoord/coordination/infra"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestDebouncer[K comparable, T any](t *testing.T, cfg DebouncerConfig) (*Debouncer[K, T], *infra.AdmissionSlots) {
	t.Helper()
	slots, err := infra.NewAdmissionSlots(cfg.MinimumParallel)
	require.NoError(t, err)
	d, err := NewDebouncer[K, T](cfg, slots)
	require.NoError(t, err)
	return d, slots
}

// burst dispara n chamadas concorrentes para key e devolve os resultados.
func burst[K comparable, T any](t *testing.T, d *Debouncer[K, T], n int, key K, action Action[T]) []domain.Result[T] {
	t.Helper()
	results := make([]domain.Result[T], n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i] = d.EventuallyOnce(context.Background(), key, action)
		}()
	}
	close(start)
	wg.Wait()
	return results
}

func counting(calls *atomic.Int32) Action[int] {
	return func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}
}

func TestDebouncerConfig_Validate(t *testing.T) {
	for name, cfg := range map[string]DebouncerConfig{
		"negative delay":     {MinDelay: -time.Second, MinimumParallel: 1},
		"negative settle":    {SettleDelay: -time.Second, MinimumParallel: 1},
		"zero parallel":      {MinimumParallel: 0},
		"growth above one":   {MinimumParallel: 1, ParallelGrowthMultiplier: 1.5},
		"negative growth":    {MinimumParallel: 1, ParallelGrowthMultiplier: -0.1},
		"growth not numeric": {MinimumParallel: 1, ParallelGrowthMultiplier: math.NaN()},
	} {
		t.Run(name, func(t *testing.T) {
			slots, err := infra.NewAdmissionSlots(1)
			require.NoError(t, err)
			_, err = NewDebouncer[string, int](cfg, slots)
			require.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}

	_, err := NewDebouncer[string, int](DebouncerConfig{MinimumParallel: 1}, nil)
	require.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestDebouncer_CoalescesConcurrentBurst(t *testing.T) {
	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		MinDelay:        100 * time.Millisecond,
		SettleDelay:     50 * time.Millisecond,
		MinimumParallel: 1,
	})

	var calls atomic.Int32
	results := burst(t, d, 10, "k", counting(&calls))

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.True(t, r.OK(), "unexpected error: %v", r.Err())
		assert.Equal(t, 1, r.Value())
		assert.Equal(t, results[0].ExecutionID(), r.ExecutionID())
	}
	assert.NotEqual(t, uuid.Nil, results[0].ExecutionID())
}

// 10 rodadas de 10 chamadas concorrentes com minDelay=500ms: uma execução por rodada.
func TestDebouncer_TenBurstsOfTen(t *testing.T) {
	if testing.Short() {
		t.Skip("takes ~5s")
	}

	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		MinDelay:        500 * time.Millisecond,
		MinimumParallel: 1,
	})

	var calls atomic.Int32
	for i := 1; i <= 10; i++ {
		results := burst(t, d, 10, "k", counting(&calls))
		require.Equal(t, int32(i), calls.Load(), "round %d", i)
		for _, r := range results {
			assert.Equal(t, results[0].ExecutionID(), r.ExecutionID())
		}
	}
	assert.Equal(t, int32(10), calls.Load())
}

// Sem SettleDelay explícito, chamadas escalonadas dentro da janela de
// MinDelay ainda resultam em uma única execução.
func TestDebouncer_DefaultSettleCoalescesStaggeredCalls(t *testing.T) {
	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		MinDelay:        100 * time.Millisecond,
		MinimumParallel: 1,
	})

	var calls atomic.Int32
	action := func(ctx context.Context) (int, error) {
		time.Sleep(2 * time.Millisecond)
		return int(calls.Add(1)), nil
	}

	results := make([]domain.Result[int], 10)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.EventuallyOnce(context.Background(), "k", action)
		}()
		time.Sleep(time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.True(t, r.OK())
		assert.Equal(t, results[0].ExecutionID(), r.ExecutionID())
	}
}

func TestDebouncer_SequentialBurstsExecuteOncePerWindow(t *testing.T) {
	const minDelay = 40 * time.Millisecond

	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		MinDelay:        minDelay,
		SettleDelay:     15 * time.Millisecond,
		MinimumParallel: 1,
	})

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		burst(t, d, 5, "k", counting(&calls))
		time.Sleep(minDelay)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestDebouncer_RespectsMinDelayBetweenStarts(t *testing.T) {
	const minDelay = 30 * time.Millisecond

	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		MinDelay:        minDelay,
		MinimumParallel: 1,
	})

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	action := func(ctx context.Context) (int, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return 0, nil
	}

	for i := 0; i < 4; i++ {
		r := d.EventuallyOnce(context.Background(), "k", action)
		require.True(t, r.OK())
	}

	require.Len(t, starts, 4)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), minDelay-2*time.Millisecond)
	}
}

func TestDebouncer_KeysAreIndependent(t *testing.T) {
	d, _ := newTestDebouncer[int, int](t, DebouncerConfig{
		MinDelay:        20 * time.Millisecond,
		MinimumParallel: 4,
	})

	var calls atomic.Int32
	var g errgroup.Group
	for key := 0; key < 4; key++ {
		g.Go(func() error {
			return d.EventuallyOnce(context.Background(), key, counting(&calls)).Err()
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(4), calls.Load())
}

func TestDebouncer_ActionErrorReachesEveryCaller(t *testing.T) {
	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		SettleDelay:     30 * time.Millisecond,
		MinimumParallel: 1,
	})

	boom := errors.New("boom")
	var calls atomic.Int32
	results := burst(t, d, 5, "k", func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, boom
	})

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.True(t, r.Failed())
		assert.False(t, r.Cancelled())
		assert.ErrorIs(t, r.Err(), boom)

		var actionErr *domain.ActionError
		require.ErrorAs(t, r.Err(), &actionErr)
		assert.Equal(t, "k", actionErr.Key)
		assert.Same(t, results[0].Err(), r.Err())
	}

	// sem retry automático: a próxima chamada executa de novo
	r := d.EventuallyOnce(context.Background(), "k", counting(&calls))
	require.True(t, r.OK())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDebouncer_RecoversPanickingAction(t *testing.T) {
	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{MinimumParallel: 1})

	r := d.EventuallyOnce(context.Background(), "k", func(ctx context.Context) (int, error) {
		panic("kaboom")
	})

	var actionErr *domain.ActionError
	require.ErrorAs(t, r.Err(), &actionErr)
	assert.Contains(t, actionErr.Error(), "kaboom")
	assert.Equal(t, 0, d.InFlight())
}

func TestDebouncer_CancelledBeforeStartNeverRuns(t *testing.T) {
	d, slots := newTestDebouncer[string, int](t, DebouncerConfig{MinimumParallel: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	r := d.EventuallyOnce(ctx, "k", counting(&calls))

	assert.True(t, r.Cancelled())
	assert.ErrorIs(t, r.Err(), context.Canceled)
	require.NoError(t, d.AwaitComplete(context.Background(), "k"))
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 0, slots.Used())
}

func TestDebouncer_CreatorCancellationCancelsCoalescedWaiters(t *testing.T) {
	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		MinDelay:        200 * time.Millisecond,
		MinimumParallel: 1,
	})

	var calls atomic.Int32
	require.True(t, d.EventuallyOnce(context.Background(), "k", counting(&calls)).OK())

	// a chave está na janela de minDelay: a próxima execução fica pendente
	ctx, cancel := context.WithCancel(context.Background())
	creator := make(chan domain.Result[int], 1)
	go func() { creator <- d.EventuallyOnce(ctx, "k", counting(&calls)) }()
	require.Eventually(t, func() bool { return d.Pending("k") }, time.Second, time.Millisecond)

	follower := make(chan domain.Result[int], 1)
	go func() { follower <- d.EventuallyOnce(context.Background(), "k", counting(&calls)) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	rc, rf := <-creator, <-follower
	assert.True(t, rc.Cancelled())
	assert.True(t, rf.Cancelled())
	assert.Equal(t, rc.ExecutionID(), rf.ExecutionID())
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, d.Pending("k"))
}

func TestDebouncer_FollowerCancellationOnlyAbortsOwnWait(t *testing.T) {
	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		SettleDelay:     60 * time.Millisecond,
		MinimumParallel: 1,
	})

	var calls atomic.Int32
	creator := make(chan domain.Result[int], 1)
	go func() { creator <- d.EventuallyOnce(context.Background(), "k", counting(&calls)) }()
	require.Eventually(t, func() bool { return d.Pending("k") }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	rf := d.EventuallyOnce(ctx, "k", counting(&calls))
	assert.True(t, rf.Cancelled())
	assert.ErrorIs(t, rf.Err(), context.DeadlineExceeded)

	rc := <-creator
	require.True(t, rc.OK())
	assert.Equal(t, 1, rc.Value())
	assert.Equal(t, rc.ExecutionID(), rf.ExecutionID())
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncer_CallsDuringExecutionOpenNewWindow(t *testing.T) {
	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		MinDelay:        20 * time.Millisecond,
		MinimumParallel: 1,
	})

	var calls atomic.Int32
	started := make(chan struct{})
	gate := make(chan struct{})
	first := make(chan domain.Result[int], 1)
	go func() {
		first <- d.EventuallyOnce(context.Background(), "k", func(ctx context.Context) (int, error) {
			close(started)
			<-gate
			return int(calls.Add(1)), nil
		})
	}()

	<-started
	assert.False(t, d.Pending("k"), "running execution must not accept new callers")

	second := make(chan domain.Result[int], 1)
	go func() { second <- d.EventuallyOnce(context.Background(), "k", counting(&calls)) }()
	require.Eventually(t, func() bool { return d.Pending("k") }, time.Second, time.Millisecond)

	close(gate)
	r1, r2 := <-first, <-second
	assert.Equal(t, 1, r1.Value())
	assert.Equal(t, 2, r2.Value())
	assert.NotEqual(t, r1.ExecutionID(), r2.ExecutionID())
}

func TestDebouncer_AwaitComplete(t *testing.T) {
	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		SettleDelay:     40 * time.Millisecond,
		MinimumParallel: 1,
	})

	require.NoError(t, d.AwaitComplete(context.Background(), "idle"))

	var calls atomic.Int32
	go d.EventuallyOnce(context.Background(), "k", counting(&calls))
	require.Eventually(t, func() bool { return d.Pending("k") }, time.Second, time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.AwaitComplete(short, "k"), domain.ErrCancelled)

	require.NoError(t, d.AwaitComplete(context.Background(), "k"))
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, d.Pending("k"))
}

func TestDebouncer_FixedBudgetBoundsParallelism(t *testing.T) {
	d, slots := newTestDebouncer[int, int](t, DebouncerConfig{
		MinimumParallel:          2,
		ParallelGrowthMultiplier: 0,
	})

	var active, peak atomic.Int32
	action := func(ctx context.Context) (int, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return 0, nil
	}

	var g errgroup.Group
	for key := 0; key < 6; key++ {
		g.Go(func() error { return d.EventuallyOnce(context.Background(), key, action).Err() })
	}
	require.NoError(t, g.Wait())

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 2, d.Budget())
	assert.Equal(t, 2, slots.Max())
	assert.Equal(t, 0, slots.Used())
}

func TestDebouncer_FullGrowthAdmitsEveryKey(t *testing.T) {
	const keys = 4

	d, slots := newTestDebouncer[int, int](t, DebouncerConfig{
		MinimumParallel:          1,
		ParallelGrowthMultiplier: 1,
	})

	// cada ação só termina quando todas estiverem executando ao mesmo tempo
	var arrived sync.WaitGroup
	arrived.Add(keys)
	all := make(chan struct{})
	go func() {
		arrived.Wait()
		close(all)
	}()

	action := func(ctx context.Context) (int, error) {
		arrived.Done()
		select {
		case <-all:
			return 0, nil
		case <-time.After(2 * time.Second):
			return 0, errors.New("keys were not admitted in parallel")
		}
	}

	var g errgroup.Group
	for key := 0; key < keys; key++ {
		g.Go(func() error { return d.EventuallyOnce(context.Background(), key, action).Err() })
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 0, slots.Used())
	assert.Equal(t, 0, d.InFlight())
	assert.Equal(t, 1, d.Budget())
}

func TestDebouncer_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))
	d, _ := newTestDebouncer[string, int](t, DebouncerConfig{
		SettleDelay:     30 * time.Millisecond,
		MinimumParallel: 1,
		Stats:           stats,
	})

	var calls atomic.Int32
	burst(t, d, 4, "k", counting(&calls))

	total := stats.Total()
	assert.Equal(t, int64(1), total[domain.EventExecuted])
	assert.Equal(t, int64(3), total[domain.EventCoalesced])
	assert.Equal(t, int64(1), stats.ByKey()["k"][domain.EventExecuted])
}
