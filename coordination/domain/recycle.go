package domain

import "context"

// RecyclePolicy descreve o ciclo de vida de um item reciclável:
// Create aloca, Clean devolve o item pronto para reuso, Dispose descarta.
//
// Clean retorna o item para suportar tipos valor (ex.: s[:0] em slices).
type RecyclePolicy[T any] interface {
	Create() T
	Clean(item T) T
	Dispose(item T)
}

// RecycleQueue é uma fila limitada que devolve uma instância reutilizável a
// cada escrita. Posse do item é transferida explicitamente a cada chamada:
// depois de WriteAndSwap/Recycle o chamador não pode mais tocar no item.
//
// Disciplina: um escritor lógico por vez, um leitor.
type RecycleQueue[T any] interface {
	// WriteAndSwap enfileira item e devolve uma instância limpa.
	// Nunca bloqueia: com a fila cheia o item mais antigo é expulso.
	WriteAndSwap(item T) (T, error)

	// Read bloqueia até existir item na fila, ctx encerrar ou Dispose.
	Read(ctx context.Context) (T, error)

	// ReadAndSwap doa recycle ao pool e então se comporta como Read.
	ReadAndSwap(ctx context.Context, recycle T) (T, error)

	TryRead() (T, bool)
	Recycle(item T)
	Dispose()

	// Evicted é o total de itens expulsos por excesso de capacidade.
	Evicted() uint64
}

// ObjectPool é um pool genérico para alocações auxiliares.
type ObjectPool[T any] interface {
	Get() T
	Return(item T)
}
