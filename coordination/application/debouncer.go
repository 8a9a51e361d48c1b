package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"workcoord/coordination/domain"

	"github.com/google/uuid"
)

// Action é o trabalho coalescido. Recebe o ctx de quem abriu a janela.
type Action[T any] func(ctx context.Context) (T, error)

// DebouncerConfig configura o Debouncer.
type DebouncerConfig struct {
	// MinDelay é o intervalo mínimo entre o início de duas execuções da mesma chave.
	MinDelay time.Duration
	// MinimumParallel é o orçamento base de chaves executando em paralelo (>= 1).
	MinimumParallel int
	// ParallelGrowthMultiplier em [0,1]: 0 = orçamento fixo, 1 = cresce com as chaves pendentes.
	ParallelGrowthMultiplier float64
	// SettleDelay atrasa a primeira execução de uma chave ociosa, para que a
	// rajada que chega junto seja coalescida. 0 usa MinDelay: chamadas dentro
	// de uma mesma janela de MinDelay resultam em uma única execução.
	SettleDelay time.Duration
	// AcquireTimeout limita a espera por vaga; <= 0 espera até o ctx encerrar.
	AcquireTimeout time.Duration

	Stats domain.StatsStore
}

func (c DebouncerConfig) Validate() error {
	if c.MinDelay < 0 {
		return domain.Configf("min delay must be >= 0, got %s", c.MinDelay)
	}
	if c.SettleDelay < 0 {
		return domain.Configf("settle delay must be >= 0, got %s", c.SettleDelay)
	}
	if c.MinimumParallel < 1 {
		return domain.Configf("minimum parallel must be >= 1, got %d", c.MinimumParallel)
	}
	if math.IsNaN(c.ParallelGrowthMultiplier) || c.ParallelGrowthMultiplier < 0 || c.ParallelGrowthMultiplier > 1 {
		return domain.Configf("parallel growth multiplier must be in [0,1], got %v", c.ParallelGrowthMultiplier)
	}
	return nil
}

// Debouncer coalesce chamadas concorrentes por chave em uma única execução.
//
// Garantias por chave:
//   - a ação executa ao menos uma vez para cada janela aberta
//   - a próxima execução nunca começa antes de MinDelay desde o início da anterior
//   - todos os chamadores que chegam enquanto a execução está pendente recebem
//     o mesmo Result (mesmo ExecutionID, valor e erro)
//   - a primeira chamada de uma chave ociosa espera SettleDelay (padrão MinDelay)
//     antes de executar, então uma rajada dentro dessa janela executa uma vez
//
// Ciclo de vida: Idle -> Waiting (até elegível) -> Executing -> Idle.
// A entrada pendente sai do mapa antes da ação rodar, então chamadas que
// chegam durante a execução abrem uma nova janela.
//
// Não há lock global mantido durante esperas: mu protege apenas os mapas.
type Debouncer[K comparable, T any] struct {
	minDelay        time.Duration
	settle          time.Duration
	minimumParallel int
	growth          float64

	slots     domain.SlotPool
	admission ConcurrencyService
	stats     domain.StatsStore

	mu        sync.Mutex
	windows   map[K]*window
	inFlight  map[K]*execution[T]
	executing int
	target    int
}

// window guarda a elegibilidade de uma chave. running != nil equivale ao
// sentinela "+infinito": a ação da chave está executando.
type window struct {
	eligibleAt time.Time
	running    chan struct{}
	settling   bool
}

type execution[T any] struct {
	id     uuid.UUID
	done   chan struct{}
	result domain.Result[T]
}

// NewDebouncer cria o Debouncer sobre um SlotPool, que passa a ter a
// capacidade controlada pelo Debouncer.
func NewDebouncer[K comparable, T any](cfg DebouncerConfig, slots domain.SlotPool) (*Debouncer[K, T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if slots == nil {
		return nil, domain.Configf("debouncer requires a slot pool")
	}
	if err := slots.ChangeMax(cfg.MinimumParallel); err != nil {
		return nil, err
	}

	settle := cfg.SettleDelay
	if settle == 0 {
		settle = cfg.MinDelay
	}

	return &Debouncer[K, T]{
		minDelay:        cfg.MinDelay,
		settle:          settle,
		minimumParallel: cfg.MinimumParallel,
		growth:          cfg.ParallelGrowthMultiplier,
		slots:           slots,
		admission:       ConcurrencyService{Pool: slots, AcquireTimeout: cfg.AcquireTimeout},
		stats:           cfg.Stats,
		windows:         make(map[K]*window),
		inFlight:        make(map[K]*execution[T]),
		target:          cfg.MinimumParallel,
	}, nil
}

// EventuallyOnce garante que action rode para key e devolve o resultado
// compartilhado da execução.
//
// O ctx de quem abre a janela governa a execução: cancelado antes da ação
// começar, todos os chamadores coalescidos recebem Cancelled e a ação não roda.
// O ctx dos demais chamadores só interrompe a própria espera.
func (d *Debouncer[K, T]) EventuallyOnce(ctx context.Context, key K, action Action[T]) domain.Result[T] {
	d.mu.Lock()
	exec, exists := d.inFlight[key]
	if !exists {
		exec = &execution[T]{id: uuid.New(), done: make(chan struct{})}
		d.inFlight[key] = exec
		d.settleLocked(key)
	}
	d.mu.Unlock()

	if exists {
		d.record(domain.EventCoalesced, key)
	} else {
		go d.run(ctx, key, exec, action)
	}
	return exec.wait(ctx)
}

// AwaitComplete espera a execução pendente (ou em andamento) de key terminar,
// sem disparar trabalho novo. Retorna nil imediatamente se não há nada pendente.
func (d *Debouncer[K, T]) AwaitComplete(ctx context.Context, key K) error {
	for {
		d.mu.Lock()
		var wait <-chan struct{}
		if exec, ok := d.inFlight[key]; ok {
			wait = exec.done
		} else if w, ok := d.windows[key]; ok && w.running != nil {
			wait = w.running
		}
		d.mu.Unlock()

		if wait == nil {
			return nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return domain.Cancelled(ctx.Err())
		}
	}
}

// Pending informa se existe janela aberta (ainda não executando) para key.
func (d *Debouncer[K, T]) Pending(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inFlight[key]
	return ok
}

// InFlight é o número de chaves com janela aberta ou executando.
func (d *Debouncer[K, T]) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inFlight) + d.executing
}

// Budget é a capacidade atual pedida ao SlotPool.
func (d *Debouncer[K, T]) Budget() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.target
}

func (d *Debouncer[K, T]) run(ctx context.Context, key K, exec *execution[T], action Action[T]) {
	if err := d.awaitEligible(ctx, key); err != nil {
		d.abandon(key, exec, err)
		return
	}

	d.mu.Lock()
	d.rebalanceLocked()
	d.mu.Unlock()

	release, err := d.admission.Acquire(ctx)
	if err != nil {
		d.abandon(key, exec, err)
		return
	}
	if err := ctx.Err(); err != nil {
		release()
		d.abandon(key, exec, domain.Cancelled(err))
		return
	}

	running := make(chan struct{})
	start := time.Now()

	d.mu.Lock()
	d.windows[key] = &window{running: running}
	if d.inFlight[key] == exec {
		delete(d.inFlight, key)
	}
	d.executing++
	d.mu.Unlock()

	value, err := d.invoke(ctx, key, action)

	release()

	w := &window{eligibleAt: start.Add(d.minDelay)}
	d.mu.Lock()
	d.windows[key] = w
	d.executing--
	d.rebalanceLocked()
	d.mu.Unlock()
	close(running)
	d.expire(key, w)

	switch {
	case err == nil:
		d.record(domain.EventExecuted, key)
	case errors.Is(err, domain.ErrCancelled):
		d.record(domain.EventCancelled, key)
	default:
		d.record(domain.EventFailed, key)
	}
	exec.resolve(value, err)
}

// abandon resolve uma execução que não chegou a rodar a ação.
func (d *Debouncer[K, T]) abandon(key K, exec *execution[T], err error) {
	d.mu.Lock()
	if d.inFlight[key] == exec {
		delete(d.inFlight, key)
	}
	if w := d.windows[key]; w != nil && w.settling {
		delete(d.windows, key)
	}
	d.rebalanceLocked()
	d.mu.Unlock()

	d.record(domain.EventCancelled, key)
	var zero T
	exec.resolve(zero, err)
}

func (d *Debouncer[K, T]) awaitEligible(ctx context.Context, key K) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return domain.Cancelled(err)
		}

		d.mu.Lock()
		w := d.windows[key]
		d.mu.Unlock()

		if w == nil {
			return nil
		}
		if w.running != nil {
			select {
			case <-w.running:
				continue
			case <-ctx.Done():
				return domain.Cancelled(ctx.Err())
			}
		}

		wait := time.Until(w.eligibleAt)
		if wait <= 0 {
			return nil
		}
		// a janela pode ser estendida concorrentemente: reavalia periodicamente
		wait = min(wait, max(d.minDelay, d.settle))

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-timer.C:
		case <-ctx.Done():
			return domain.Cancelled(ctx.Err())
		}
	}
}

func (d *Debouncer[K, T]) invoke(ctx context.Context, key K, action Action[T]) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value, err = zero, &domain.ActionError{Key: key, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	value, err = action(ctx)
	if err == nil {
		return value, nil
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return value, domain.Cancelled(err)
	}
	return value, &domain.ActionError{Key: key, Err: err}
}

// settleLocked abre a janela de acomodação de uma chave ociosa.
func (d *Debouncer[K, T]) settleLocked(key K) {
	if d.settle <= 0 {
		return
	}
	at := time.Now().Add(d.settle)
	if w := d.windows[key]; w == nil || (w.running == nil && w.eligibleAt.Before(at)) {
		d.windows[key] = &window{eligibleAt: at, settling: true}
	}
}

// rebalanceLocked ajusta o SlotPool para
// minimumParallel + floor(chavesEmVoo * growth), onde chaves em voo são as
// pendentes mais as executando. growth 1 nunca deixa uma chave sem vaga.
func (d *Debouncer[K, T]) rebalanceLocked() {
	inFlight := len(d.inFlight) + d.executing
	target := d.minimumParallel + int(math.Floor(float64(inFlight)*d.growth))
	if target == d.target {
		return
	}
	if err := d.slots.ChangeMax(target); err == nil {
		d.target = target
	}
}

// expire remove a janela da chave quando ela fecha, se ninguém a substituiu.
func (d *Debouncer[K, T]) expire(key K, w *window) {
	drop := func() {
		d.mu.Lock()
		if d.windows[key] == w {
			delete(d.windows, key)
		}
		d.mu.Unlock()
	}
	if d.minDelay <= 0 {
		drop()
		return
	}
	time.AfterFunc(d.minDelay, drop)
}

func (d *Debouncer[K, T]) record(kind domain.EventKind, key K) {
	if d.stats == nil {
		return
	}
	_ = d.stats.Record(context.Background(), domain.StatsEvent{
		Kind:  kind,
		Key:   fmt.Sprint(key),
		Count: 1,
		At:    time.Now(),
	})
}

func (e *execution[T]) resolve(value T, err error) {
	e.result = domain.NewResult(e.id, value, err)
	close(e.done)
}

func (e *execution[T]) wait(ctx context.Context) domain.Result[T] {
	select {
	case <-e.done:
		return e.result
	case <-ctx.Done():
		select {
		case <-e.done:
			return e.result
		default:
		}
		var zero T
		return domain.NewResult(e.id, zero, domain.Cancelled(ctx.Err()))
	}
}
