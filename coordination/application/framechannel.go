package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"workcoord/coordination/domain"
)

// FrameChannelConfig configura o FrameChannel.
type FrameChannelConfig struct {
	// AllowWriteWhileEndingFrame desliga a detecção (best-effort) de escrita
	// concorrente com EndFrameAndEnqueue. Nesse modo a ordem entre escrita e
	// fim de frame é definida pelo chamador.
	AllowWriteWhileEndingFrame bool

	Sink  domain.DiagnosticSink
	Stats domain.StatsStore
}

// FrameChannel agrega escritas de vários produtores em um pacote por ciclo de
// produção e entrega pacotes selados a um único consumidor.
//
// Backpressure: a fila de pacotes selados é limitada; excedida, o pacote não
// lido mais antigo é descartado (nunca entregue) e contado em Dropped.
// Perda de dados para consumidor lento é a política, não bloqueio.
//
// Modo estrito (padrão): escrita que encontra EndFrameAndEnqueue em andamento,
// ou EndFrameAndEnqueue que encontra escrita em andamento, é reportada como
// violação de invariante e falha com domain.ErrWriteWhileEnding. A detecção é
// best-effort (TryLock), não uma garantia de exclusão.
type FrameChannel[T any] struct {
	queue  domain.RecycleQueue[*FramePacket[T]]
	policy domain.RecyclePolicy[*FramePacket[T]]
	strict bool
	sink   domain.DiagnosticSink
	stats  domain.StatsStore

	writeMu sync.Mutex
	ending  atomic.Bool
	writing atomic.Int32
	open    *FramePacket[T]
	seq     atomic.Uint64

	dropped  atomic.Uint64
	disposed atomic.Bool
}

func NewFrameChannel[T any](queue domain.RecycleQueue[*FramePacket[T]], policy domain.RecyclePolicy[*FramePacket[T]], cfg FrameChannelConfig) (*FrameChannel[T], error) {
	if queue == nil || policy == nil {
		return nil, domain.Configf("frame channel requires a queue and a packet policy")
	}
	sink := cfg.Sink
	if sink == nil {
		sink = domain.SinkFunc(func(string, map[string]any) {})
	}
	return &FrameChannel[T]{
		queue:  queue,
		policy: policy,
		strict: !cfg.AllowWriteWhileEndingFrame,
		sink:   sink,
		stats:  cfg.Stats,
		open:   policy.Create(),
	}, nil
}

// WriteFramePacketData adiciona item ao pacote aberto. Seguro para vários
// produtores; a ordem é preservada por produtor.
func (c *FrameChannel[T]) WriteFramePacketData(item T) error {
	if c.disposed.Load() {
		return domain.ErrDisposed
	}

	if c.strict && !c.writeMu.TryLock() {
		if c.ending.Load() {
			c.violation(domain.ErrWriteWhileEnding, "write")
			return domain.ErrWriteWhileEnding
		}
		c.writeMu.Lock()
	} else if !c.strict {
		c.writeMu.Lock()
	}
	if c.disposed.Load() {
		c.writeMu.Unlock()
		return domain.ErrDisposed
	}
	c.writing.Add(1)
	c.open.Items = append(c.open.Items, item)
	c.writing.Add(-1)
	c.writeMu.Unlock()
	return nil
}

// EndFrameAndEnqueue sela o pacote aberto, enfileira e instala um pacote
// reciclado vazio como novo pacote aberto. Deve ser chamado por um único
// papel produtor por ciclo.
func (c *FrameChannel[T]) EndFrameAndEnqueue() error {
	if c.disposed.Load() {
		return domain.ErrDisposed
	}

	if c.strict {
		if !c.writeMu.TryLock() {
			if c.disposed.Load() {
				return domain.ErrDisposed
			}
			c.violation(domain.ErrWriteWhileEnding, "end_frame")
			return domain.ErrWriteWhileEnding
		}
	} else {
		c.writeMu.Lock()
	}
	defer c.writeMu.Unlock()

	c.ending.Store(true)
	defer c.ending.Store(false)

	sealed := c.open
	sealed.seal(c.seq.Add(1))

	before := c.queue.Evicted()
	next, err := c.queue.WriteAndSwap(sealed)
	c.open = next
	if err != nil {
		return err
	}

	c.record(domain.EventFrameEnqueued, 1)
	if evicted := c.queue.Evicted() - before; evicted > 0 {
		c.dropped.Add(evicted)
		c.record(domain.EventFrameDropped, int64(evicted))
	}
	return nil
}

// ReadFrame devolve recycled (pode ser nil na primeira leitura) e bloqueia
// até o próximo pacote selado. Um pacote cuja contagem diverge do seal é
// reportado e devolvido junto com domain.ErrPacketMutated.
func (c *FrameChannel[T]) ReadFrame(ctx context.Context, recycled *FramePacket[T]) (*FramePacket[T], error) {
	var (
		packet *FramePacket[T]
		err    error
	)
	if recycled != nil {
		c.checkReturned(recycled)
		packet, err = c.queue.ReadAndSwap(ctx, recycled)
	} else {
		packet, err = c.queue.Read(ctx)
	}
	if err != nil {
		return nil, err
	}
	return packet, c.verify(packet)
}

// TryReadFrame é a variante não bloqueante de ReadFrame.
func (c *FrameChannel[T]) TryReadFrame() (*FramePacket[T], bool, error) {
	packet, ok := c.queue.TryRead()
	if !ok {
		if c.disposed.Load() {
			return nil, false, domain.ErrDisposed
		}
		return nil, false, nil
	}
	return packet, true, c.verify(packet)
}

// Recycle devolve um pacote lido sem ler o próximo.
func (c *FrameChannel[T]) Recycle(packet *FramePacket[T]) {
	if packet == nil {
		return
	}
	c.checkReturned(packet)
	c.queue.Recycle(packet)
}

// Dispose descarta a fila e os pacotes. Escritas posteriores falham com ErrDisposed.
func (c *FrameChannel[T]) Dispose() {
	if c.disposed.Swap(true) {
		return
	}
	c.queue.Dispose()

	c.writeMu.Lock()
	open := c.open
	c.open = c.policy.Create()
	c.writeMu.Unlock()
	c.policy.Dispose(c.policy.Clean(open))
}

// Dropped é o total de pacotes descartados por backpressure.
func (c *FrameChannel[T]) Dropped() uint64 { return c.dropped.Load() }

// Frames é o total de pacotes selados. Não toca em writeMu: só produtores
// podem segurar o lock de escrita.
func (c *FrameChannel[T]) Frames() uint64 { return c.seq.Load() }

func (c *FrameChannel[T]) verify(packet *FramePacket[T]) error {
	if packet.intact() {
		return nil
	}
	c.sink.ReportInvariantViolation(domain.ErrPacketMutated.Error(), map[string]any{
		"component": "frame_channel",
		"seq":       packet.Seq,
		"sealed":    packet.sealedCount,
		"live":      packet.Len(),
	})
	return domain.ErrPacketMutated
}

// checkReturned detecta consumidor que alterou o pacote depois de lê-lo.
func (c *FrameChannel[T]) checkReturned(packet *FramePacket[T]) {
	if !packet.sealed || packet.intact() {
		return
	}
	c.sink.ReportInvariantViolation(domain.ErrPacketMutated.Error(), map[string]any{
		"component": "frame_channel",
		"seq":       packet.Seq,
		"sealed":    packet.sealedCount,
		"live":      packet.Len(),
		"stage":     "recycle",
	})
}

func (c *FrameChannel[T]) violation(err error, op string) {
	c.sink.ReportInvariantViolation(err.Error(), map[string]any{
		"component": "frame_channel",
		"op":        op,
		"writers":   c.writing.Load(),
	})
}

func (c *FrameChannel[T]) record(kind domain.EventKind, n int64) {
	if c.stats == nil {
		return
	}
	_ = c.stats.Record(context.Background(), domain.StatsEvent{Kind: kind, Count: n, At: time.Now()})
}
