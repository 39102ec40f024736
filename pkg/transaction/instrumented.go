// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transaction

import (
	"context"
	"errors"
)

// Operation outcomes reported to a Recorder.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Recorder receives one event per store operation.
type Recorder interface {
	RecordTransactionOp(ctx context.Context, store, op, outcome string)
}

type instrumented[T any] struct {
	Store[T]
	name     string
	recorder Recorder
}

// Instrument wraps store so every operation is reported to recorder under name.
func Instrument[T any](store Store[T], name string, recorder Recorder) Store[T] {
	if recorder == nil {
		return store
	}
	return &instrumented[T]{Store: store, name: name, recorder: recorder}
}

func (s *instrumented[T]) Create(ctx context.Context, value T) (string, error) {
	state, err := s.Store.Create(ctx, value)
	s.recorder.RecordTransactionOp(ctx, s.name, "create", outcome(err))
	return state, err
}

func (s *instrumented[T]) Peek(ctx context.Context, state string) (T, error) {
	v, err := s.Store.Peek(ctx, state)
	s.recorder.RecordTransactionOp(ctx, s.name, "peek", outcome(err))
	return v, err
}

func (s *instrumented[T]) Consume(ctx context.Context, state string) (T, error) {
	v, err := s.Store.Consume(ctx, state)
	s.recorder.RecordTransactionOp(ctx, s.name, "consume", outcome(err))
	return v, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}
