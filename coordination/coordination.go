package coordination

import (
	"time"

	"workcoord/coordination/application"
	"workcoord/coordination/domain"
	"workcoord/coordination/infra"
)

type options struct {
	sink           domain.DiagnosticSink
	stats          domain.StatsStore
	acquireTimeout time.Duration
	settleDelay    time.Duration
	packetCapacity int
	prealloc       int
}

type Option func(*options)

// WithSink define onde reportar violações de invariante. Padrão: descarta.
func WithSink(sink domain.DiagnosticSink) Option {
	return func(o *options) { o.sink = sink }
}

// WithStats define o destino best-effort de estatísticas. Padrão: nenhum.
func WithStats(stats domain.StatsStore) Option {
	return func(o *options) { o.stats = stats }
}

// WithAcquireTimeout limita a espera do Debouncer por vaga de admissão.
func WithAcquireTimeout(d time.Duration) Option {
	return func(o *options) { o.acquireTimeout = d }
}

// WithSettleDelay atrasa a primeira execução de uma chave ociosa do Debouncer
// para coalescer a rajada que chega junto. Sem a opção, vale minDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) { o.settleDelay = d }
}

// WithPacketCapacity define a capacidade inicial de itens de cada pacote novo.
func WithPacketCapacity(n int) Option {
	return func(o *options) { o.packetCapacity = n }
}

// WithPrealloc cria n pacotes livres já na construção do FrameChannel.
func WithPrealloc(n int) Option {
	return func(o *options) { o.prealloc = n }
}

func buildOptions(opts []Option) options {
	o := options{sink: infra.NopSink{}, packetCapacity: 16}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewAdmissionSlots cria o semáforo ajustável com `initial` vagas livres.
func NewAdmissionSlots(initial int, opts ...Option) (*infra.AdmissionSlots, error) {
	o := buildOptions(opts)
	return infra.NewAdmissionSlots(initial, infra.WithSlotsSink(o.sink))
}

// NewDebouncer cria um Debouncer com seu próprio AdmissionSlots.
func NewDebouncer[K comparable, T any](minDelay time.Duration, minimumParallel int, growthMultiplier float64, opts ...Option) (*application.Debouncer[K, T], error) {
	o := buildOptions(opts)

	cfg := application.DebouncerConfig{
		MinDelay:                 minDelay,
		MinimumParallel:          minimumParallel,
		ParallelGrowthMultiplier: growthMultiplier,
		SettleDelay:              o.settleDelay,
		AcquireTimeout:           o.acquireTimeout,
		Stats:                    o.stats,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slots, err := infra.NewAdmissionSlots(minimumParallel, infra.WithSlotsSink(o.sink))
	if err != nil {
		return nil, err
	}
	return application.NewDebouncer[K, T](cfg, slots)
}

// NewFrameChannel cria um FrameChannel que guarda até maxFrames pacotes
// selados não lidos. Pacotes novos vêm do heap.
func NewFrameChannel[T any](maxFrames int, allowWriteWhileEndingFrame bool, opts ...Option) (*application.FrameChannel[T], error) {
	o := buildOptions(opts)
	pool := infra.NewHeapPool(func() *application.FramePacket[T] {
		return application.NewFramePacket[T](o.packetCapacity)
	})
	return newFrameChannel[T](maxFrames, allowWriteWhileEndingFrame, pool, o)
}

// NewFrameChannelWithPool é como NewFrameChannel, mas cria e descarta pacotes
// via pool (ex.: um infra.SyncPool compartilhado entre vários canais).
func NewFrameChannelWithPool[T any](maxFrames int, allowWriteWhileEndingFrame bool, pool domain.ObjectPool[*application.FramePacket[T]], opts ...Option) (*application.FrameChannel[T], error) {
	if pool == nil {
		return nil, domain.Configf("frame channel pool must not be nil")
	}
	return newFrameChannel[T](maxFrames, allowWriteWhileEndingFrame, pool, buildOptions(opts))
}

// NewPacketPool cria um infra.SyncPool de pacotes para NewFrameChannelWithPool.
func NewPacketPool[T any](packetCapacity int) *infra.SyncPool[*application.FramePacket[T]] {
	return infra.NewSyncPool[*application.FramePacket[T]](infra.FuncPolicy[*application.FramePacket[T]]{
		CreateFn: func() *application.FramePacket[T] { return application.NewFramePacket[T](packetCapacity) },
		CleanFn: func(p *application.FramePacket[T]) *application.FramePacket[T] {
			p.Reset()
			return p
		},
	})
}

func newFrameChannel[T any](maxFrames int, allowWriteWhileEndingFrame bool, pool domain.ObjectPool[*application.FramePacket[T]], o options) (*application.FrameChannel[T], error) {
	if maxFrames < 1 {
		return nil, domain.Configf("max frames must be >= 1, got %d", maxFrames)
	}

	policy := application.PacketPolicy[T]{Pool: pool}
	queue, err := infra.NewRecycleChannel[*application.FramePacket[T]](maxFrames, policy, infra.WithPrealloc(o.prealloc))
	if err != nil {
		return nil, err
	}

	return application.NewFrameChannel[T](queue, policy, application.FrameChannelConfig{
		AllowWriteWhileEndingFrame: allowWriteWhileEndingFrame,
		Sink:                       o.sink,
		Stats:                      o.stats,
	})
}
