// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transaction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authContext struct {
	RedirectURI string `json:"redirect_uri"`
	ClientID    string `json:"client_id"`
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// backend builds a store under test and knows how to move its time forward.
type backend struct {
	store   Store[authContext]
	advance func(time.Duration)
}

type backendFactory func(t *testing.T, opts ...Option) backend

func memoryBackend(t *testing.T, opts ...Option) backend {
	t.Helper()
	clock := newFakeClock()
	s := NewMemoryStore[authContext](append([]Option{WithClock(clock.Now)}, opts...)...)
	t.Cleanup(func() { _ = s.Close() })
	return backend{store: s, advance: clock.Advance}
}

func redisBackend(t *testing.T, opts ...Option) backend {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStoreWithClient[authContext](client, "test:tx", opts...)
	return backend{store: s, advance: mr.FastForward}
}

// withBackends runs fn once per storage backend, in parallel.
func withBackends(t *testing.T, fn func(t *testing.T, newBackend backendFactory)) {
	t.Helper()
	for name, factory := range map[string]backendFactory{
		"memory": memoryBackend,
		"redis":  redisBackend,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, factory)
		})
	}
}

func fixedState(state string) Option {
	return WithStateGenerator(func() (string, error) { return state, nil })
}

func TestStore_CreateAndPeek(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		ctx := context.Background()
		b := newBackend(t)

		want := authContext{RedirectURI: "https://client.example/cb", ClientID: "c1"}
		state, err := b.store.Create(ctx, want)
		require.NoError(t, err)
		assert.Len(t, state, 43)

		for range 5 {
			got, err := b.store.Peek(ctx, state)
			require.NoError(t, err, "peek must not mutate the record")
			assert.Equal(t, want, got)
		}
	})
}

func TestStore_UniqueStates(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		ctx := context.Background()
		b := newBackend(t)

		seen := make(map[string]struct{})
		for range 100 {
			state, err := b.store.Create(ctx, authContext{})
			require.NoError(t, err)
			_, dup := seen[state]
			require.False(t, dup)
			seen[state] = struct{}{}
		}
	})
}

func TestStore_ConsumeIsFinal(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		ctx := context.Background()
		b := newBackend(t)

		state, err := b.store.Create(ctx, authContext{RedirectURI: "https://client.example/cb"})
		require.NoError(t, err)

		got, err := b.store.Consume(ctx, state)
		require.NoError(t, err)
		assert.Equal(t, "https://client.example/cb", got.RedirectURI)

		_, err = b.store.Consume(ctx, state)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = b.store.Peek(ctx, state)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// A failed code exchange between Peek and Consume leaves the record usable.
func TestStore_RetryAfterFailedExchange(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		ctx := context.Background()
		b := newBackend(t)

		state, err := b.store.Create(ctx, authContext{RedirectURI: "https://client.example/cb"})
		require.NoError(t, err)

		_, err = b.store.Peek(ctx, state)
		require.NoError(t, err)
		// exchange fails here; the record is left alone

		got, err := b.store.Peek(ctx, state)
		require.NoError(t, err)
		assert.Equal(t, "https://client.example/cb", got.RedirectURI)

		_, err = b.store.Consume(ctx, state)
		require.NoError(t, err)
	})
}

func TestStore_ConcurrentConsumeSucceedsOnce(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		ctx := context.Background()
		b := newBackend(t)

		state, err := b.store.Create(ctx, authContext{ClientID: "c1"})
		require.NoError(t, err)

		const workers = 32
		var (
			wg        sync.WaitGroup
			successes atomic.Int32
			notFound  atomic.Int32
			start     = make(chan struct{})
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := b.store.Consume(ctx, state)
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, ErrNotFound):
					notFound.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(1), successes.Load())
		assert.Equal(t, int32(workers-1), notFound.Load())
	})
}

func TestStore_Expiry(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		ctx := context.Background()
		b := newBackend(t, WithTTL(time.Minute))

		state, err := b.store.Create(ctx, authContext{})
		require.NoError(t, err)

		b.advance(59 * time.Second)
		_, err = b.store.Peek(ctx, state)
		require.NoError(t, err)

		b.advance(2 * time.Second)
		_, err = b.store.Peek(ctx, state)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = b.store.Consume(ctx, state)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UnknownState(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		b := newBackend(t)
		_, err := b.store.Peek(context.Background(), "never-issued")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = b.store.Consume(context.Background(), "never-issued")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// The state "abc123" with redirect https://client.example/cb: peek twice,
// consume once, and every later lookup reports not found.
func TestStore_StateLifecycleScenario(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		ctx := context.Background()
		b := newBackend(t, fixedState("abc123"))

		state, err := b.store.Create(ctx, authContext{RedirectURI: "https://client.example/cb"})
		require.NoError(t, err)
		require.Equal(t, "abc123", state)

		for range 2 {
			got, err := b.store.Peek(ctx, "abc123")
			require.NoError(t, err)
			assert.Equal(t, "https://client.example/cb", got.RedirectURI)
		}

		got, err := b.store.Consume(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, "https://client.example/cb", got.RedirectURI)

		_, err = b.store.Peek(ctx, "abc123")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_CollisionIsInternalFault(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		ctx := context.Background()
		b := newBackend(t, fixedState("same"))

		_, err := b.store.Create(ctx, authContext{ClientID: "first"})
		require.NoError(t, err)

		_, err = b.store.Create(ctx, authContext{ClientID: "second"})
		assert.ErrorIs(t, err, ErrCollision)

		got, err := b.store.Peek(ctx, "same")
		require.NoError(t, err)
		assert.Equal(t, "first", got.ClientID, "a collision must not overwrite the live record")
	})
}

func TestStore_GeneratorError(t *testing.T) {
	t.Parallel()
	withBackends(t, func(t *testing.T, newBackend backendFactory) {
		boom := errors.New("entropy exhausted")
		b := newBackend(t, WithStateGenerator(func() (string, error) { return "", boom }))

		_, err := b.store.Create(context.Background(), authContext{})
		assert.ErrorIs(t, err, boom)
	})
}

func TestMemoryStore_CleanupLoopEvictsExpired(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewMemoryStore[authContext](
		WithClock(clock.Now),
		WithTTL(time.Minute),
		WithCleanupInterval(10*time.Millisecond),
	)
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Create(context.Background(), authContext{})
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore[authContext]()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestRedisStore_BackendFailureIsNotNotFound(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStoreWithClient[authContext](client, "test:tx")

	state, err := s.Create(context.Background(), authContext{})
	require.NoError(t, err)

	mr.Close()

	_, err = s.Peek(context.Background(), state)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = s.Create(context.Background(), authContext{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisStore_KeyLayoutAndTTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStoreWithClient[authContext](client, "otus-mcp:tx", fixedState("abc123"), WithTTL(5*time.Minute))

	_, err := s.Create(context.Background(), authContext{ClientID: "c1"})
	require.NoError(t, err)

	assert.True(t, mr.Exists("otus-mcp:tx:abc123"))
	assert.Equal(t, 5*time.Minute, mr.TTL("otus-mcp:tx:abc123"))

	_, err = s.Consume(context.Background(), "abc123")
	require.NoError(t, err)
	assert.False(t, mr.Exists("otus-mcp:tx:abc123"), "consumed records are evicted")
}

func TestRedisStore_ClockSkewGuard(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newFakeClock()
	s := NewRedisStoreWithClient[authContext](client, "test:tx", WithClock(clock.Now), WithTTL(time.Minute))

	state, err := s.Create(context.Background(), authContext{})
	require.NoError(t, err)

	// The key is still in Redis but the record is older than the TTL.
	clock.Advance(time.Hour)
	_, err = s.Peek(context.Background(), state)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewState(t *testing.T) {
	t.Parallel()

	a, err := NewState()
	require.NoError(t, err)
	b, err := NewState()
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
	assert.NotContains(t, a, "=")
}
