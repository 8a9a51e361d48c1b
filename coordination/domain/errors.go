package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration indica argumentos inválidos em construtores.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCancelled indica que uma espera foi abandonada (ctx cancelado ou timeout).
	// O erro do ctx é encadeado, então errors.Is(err, context.DeadlineExceeded) também funciona.
	ErrCancelled = errors.New("cancelled")

	// ErrDisposed indica operação em canal já descartado.
	ErrDisposed = errors.New("disposed")

	// ErrInvariantViolation indica quebra de protocolo pelo chamador.
	ErrInvariantViolation = errors.New("concurrency invariant violation")

	ErrWriteWhileEnding = fmt.Errorf("%w: write concurrent with end of frame", ErrInvariantViolation)
	ErrDoubleRelease    = fmt.Errorf("%w: slot released twice", ErrInvariantViolation)
	ErrPacketMutated    = fmt.Errorf("%w: frame packet mutated after seal", ErrInvariantViolation)
)

// Cancelled envolve o erro do ctx em ErrCancelled.
func Cancelled(cause error) error {
	if cause == nil {
		return ErrCancelled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}

// Configf cria um ErrConfiguration com detalhe.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// ActionError envolve a falha da ação executada pelo Debouncer.
// Todos os chamadores coalescidos recebem o mesmo *ActionError.
type ActionError struct {
	Key any
	Err error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action failed for key %v: %v", e.Key, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
