package domain

import (
	"errors"

	"github.com/google/uuid"
)

// Result é o resultado compartilhado de uma execução coalescida.
//
// ExecutionID identifica a execução: chamadores que receberam o mesmo ID
// observaram a mesma execução (mesmo valor, mesmo erro).
type Result[T any] struct {
	executionID uuid.UUID
	value       T
	err         error
}

func NewResult[T any](executionID uuid.UUID, value T, err error) Result[T] {
	return Result[T]{executionID: executionID, value: value, err: err}
}

func (r Result[T]) ExecutionID() uuid.UUID { return r.executionID }
func (r Result[T]) Value() T               { return r.value }
func (r Result[T]) Err() error             { return r.err }

// Get devolve valor e erro no formato usual de Go.
func (r Result[T]) Get() (T, error) { return r.value, r.err }

func (r Result[T]) OK() bool { return r.err == nil }

// Cancelled distingue "desistiu" de "falhou".
func (r Result[T]) Cancelled() bool { return errors.Is(r.err, ErrCancelled) }

func (r Result[T]) Failed() bool { return r.err != nil && !r.Cancelled() }
