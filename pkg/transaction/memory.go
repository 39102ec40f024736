// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transaction

import (
	"context"
	"sync"
	"time"

	"github.com/tecrolabs/otus-mcp/pkg/logger"
)

// MemoryStore is a process-local Store. It is suitable for single replica
// deployments and tests; use RedisStore when several replicas share callbacks.
type MemoryStore[T any] struct {
	mu      sync.Mutex
	records map[string]*Record[T]
	opts    options

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewMemoryStore creates a MemoryStore and starts its background cleanup loop.
func NewMemoryStore[T any](opts ...Option) *MemoryStore[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	s := &MemoryStore[T]{
		records:     make(map[string]*Record[T]),
		opts:        o,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// Create implements Store.
func (s *MemoryStore[T]) Create(_ context.Context, value T) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	for range maxCreateAttempts {
		state, err := s.opts.newState()
		if err != nil {
			return "", err
		}
		if existing, ok := s.records[state]; ok && !existing.expired(now, s.opts.ttl) {
			logger.Warnw("state token collision", "state", logger.Redact(state))
			continue
		}
		s.records[state] = &Record[T]{
			State:     state,
			CreatedAt: now,
			Status:    StatusPending,
			Context:   value,
		}
		return state, nil
	}
	return "", ErrCollision
}

// Peek implements Store.
func (s *MemoryStore[T]) Peek(_ context.Context, state string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.liveLocked(state)
	if err != nil {
		var zero T
		return zero, err
	}
	return rec.Context, nil
}

// Consume implements Store.
func (s *MemoryStore[T]) Consume(_ context.Context, state string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.liveLocked(state)
	if err != nil {
		var zero T
		return zero, err
	}
	rec.Status = StatusConsumed
	delete(s.records, state)
	return rec.Context, nil
}

// liveLocked returns the pending, unexpired record for state. Expired records
// are evicted on the way. Callers must hold s.mu.
func (s *MemoryStore[T]) liveLocked(state string) (*Record[T], error) {
	rec, ok := s.records[state]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.expired(s.opts.now(), s.opts.ttl) {
		delete(s.records, state)
		return nil, ErrNotFound
	}
	if rec.Status != StatusPending {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Len returns the number of records currently held, expired ones included
// until the next sweep.
func (s *MemoryStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStore[T]) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}

func (s *MemoryStore[T]) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.opts.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

func (s *MemoryStore[T]) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	removed := 0
	for state, rec := range s.records {
		if rec.expired(now, s.opts.ttl) {
			delete(s.records, state)
			removed++
		}
	}
	if removed > 0 {
		logger.Debugw("evicted expired transactions", "count", removed)
	}
}

var _ Store[struct{}] = (*MemoryStore[struct{}])(nil)
