package domain

import "context"

// Release devolve uma vaga adquirida via SlotPool.Acquire.
// Chamadas repetidas são no-op (e reportadas como violação de invariante).
type Release func()

// SlotPool representa um recurso com capacidade finita e ajustável em runtime.
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna um Release que deve ser chamado uma vez.
// Se o ctx encerrar antes, retorna erro que satisfaz errors.Is(err, ErrCancelled)
// e nenhuma vaga é consumida.
type SlotPool interface {
	Acquire(ctx context.Context) (Release, error)

	// ChangeMax altera a capacidade. Não expulsa quem já está admitido.
	ChangeMax(newMax int) error

	Used() int
	Available() int
	Max() int
}
