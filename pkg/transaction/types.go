// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transaction stores short-lived, single-use OAuth transactions keyed
// by an opaque state token.
//
// A transaction is created when a user is sent to the authorization broker and
// is read back when the broker redirects to the callback. The callback may be
// retried: reading with Peek is non-destructive, so a failed code exchange can
// be attempted again. Once the exchange succeeds the caller invokes Consume,
// which moves the record from pending to consumed exactly once and evicts it.
// Every later lookup of that state, and every lookup of a state older than the
// store TTL, reports ErrNotFound.
package transaction

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultTTL bounds how long a pending transaction stays usable.
	DefaultTTL = 10 * time.Minute

	// DefaultCleanupInterval is how often the in-memory backend sweeps expired records.
	DefaultCleanupInterval = time.Minute

	// stateBytes is the entropy of generated state tokens.
	stateBytes = 32

	// maxCreateAttempts bounds retries when a generated state collides with a live one.
	maxCreateAttempts = 3
)

var (
	// ErrNotFound is returned when a state is unknown, already consumed or expired.
	// The three cases are deliberately indistinguishable.
	ErrNotFound = errors.New("transaction not found")

	// ErrCollision is returned by Create when a fresh state token keeps colliding
	// with a live one. It indicates a broken random source and is an internal fault.
	ErrCollision = errors.New("state token collision")

	// ErrUnavailable wraps failures of the backing store so they are never
	// mistaken for ErrNotFound.
	ErrUnavailable = errors.New("transaction store unavailable")
)

// Status is the lifecycle position of a transaction record.
type Status string

const (
	// StatusPending means the transaction can still be peeked and consumed.
	StatusPending Status = "pending"

	// StatusConsumed means the transaction completed. Consumed records are evicted
	// immediately, so this value is only observed transiently.
	StatusConsumed Status = "consumed"
)

// Record is the stored form of a transaction.
type Record[T any] struct {
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
	Context   T         `json:"context"`
}

// expired reports whether the record is older than ttl at now.
func (r *Record[T]) expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(r.CreatedAt.Add(ttl))
}

// Store is a single-use transaction store.
//
// Implementations must guarantee that, for a given state, at most one Consume
// call ever succeeds, including when calls race.
type Store[T any] interface {
	// Create stores ctx under a freshly generated state token and returns the token.
	Create(ctx context.Context, value T) (string, error)

	// Peek returns the context of a pending, unexpired transaction without changing it.
	Peek(ctx context.Context, state string) (T, error)

	// Consume atomically transitions a pending transaction to consumed, evicts it,
	// and returns its context.
	Consume(ctx context.Context, state string) (T, error)

	// Close releases resources held by the store.
	Close() error
}

// StateGenerator produces state tokens.
type StateGenerator func() (string, error)

// NewState returns a URL-safe token carrying 256 bits of entropy.
func NewState() (string, error) {
	buf := make([]byte, stateBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

type options struct {
	ttl             time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	newState        StateGenerator
}

func defaultOptions() options {
	return options{
		ttl:             DefaultTTL,
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
		newState:        NewState,
	}
}

// Option configures a store.
type Option func(*options)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithCleanupInterval overrides DefaultCleanupInterval for the in-memory backend.
func WithCleanupInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.cleanupInterval = interval
		}
	}
}

// WithClock replaces time.Now. Tests use it to move time forward.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithStateGenerator replaces NewState.
func WithStateGenerator(gen StateGenerator) Option {
	return func(o *options) {
		o.newState = gen
	}
}
