package application

import (
	"workcoord/coordination/domain"
)

// FramePacket é o lote ordenado de itens produzidos em um ciclo.
//
// Ciclo de vida: Open -> Sealed -> (Read -> Recycled) | (Evicted -> Recycled).
// Items é reaproveitado entre ciclos; o consumidor só pode ler o pacote entre
// ReadFrame e a devolução (próximo ReadFrame ou Recycle).
type FramePacket[T any] struct {
	Items []T
	// Seq é o número do frame no FrameChannel de origem (começa em 1).
	Seq uint64

	sealed      bool
	sealedCount int
}

// NewFramePacket cria um pacote aberto com capacidade inicial.
func NewFramePacket[T any](capacity int) *FramePacket[T] {
	return &FramePacket[T]{Items: make([]T, 0, capacity)}
}

func (p *FramePacket[T]) Len() int { return len(p.Items) }

func (p *FramePacket[T]) Sealed() bool { return p.sealed }

// Reset zera os itens (libera referências para o GC) mantendo a capacidade.
func (p *FramePacket[T]) Reset() {
	clear(p.Items)
	p.Items = p.Items[:0]
	p.Seq = 0
	p.sealed = false
	p.sealedCount = 0
}

func (p *FramePacket[T]) seal(seq uint64) {
	p.Seq = seq
	p.sealed = true
	p.sealedCount = len(p.Items)
}

// intact compara a contagem viva com a do momento do seal.
func (p *FramePacket[T]) intact() bool {
	return p.sealed && len(p.Items) == p.sealedCount
}

// PacketPolicy é a domain.RecyclePolicy dos pacotes: cria via ObjectPool,
// limpa com Reset e devolve ao ObjectPool no Dispose.
type PacketPolicy[T any] struct {
	Pool domain.ObjectPool[*FramePacket[T]]
}

func (p PacketPolicy[T]) Create() *FramePacket[T] {
	packet := p.Pool.Get()
	packet.Reset()
	return packet
}

func (p PacketPolicy[T]) Clean(packet *FramePacket[T]) *FramePacket[T] {
	packet.Reset()
	return packet
}

func (p PacketPolicy[T]) Dispose(packet *FramePacket[T]) {
	p.Pool.Return(packet)
}
