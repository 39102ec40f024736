// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tecrolabs/otus-mcp/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisStore is a Store shared by every replica connected to the same Redis.
//
// Uniqueness comes from SET NX, expiry from the key TTL, and the single
// pending to consumed transition from GETDEL: Redis executes it atomically,
// so exactly one concurrent Consume observes the value.
type RedisStore[T any] struct {
	client    redis.UniversalClient
	keyPrefix string
	ownClient bool
	opts      options
}

// NewRedisStore connects to Redis using cfg and returns a store whose keys live
// under cfg.KeyPrefix + namespace.
func NewRedisStore[T any](ctx context.Context, cfg RedisConfig, namespace string, opts ...Option) (*RedisStore[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  durationOr(cfg.DialTimeout, DefaultDialTimeout),
		ReadTimeout:  durationOr(cfg.ReadTimeout, DefaultReadTimeout),
		WriteTimeout: durationOr(cfg.WriteTimeout, DefaultWriteTimeout),
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewRedisStoreWithClient[T](client, cfg.KeyPrefix+namespace, opts...)
	s.ownClient = true
	return s, nil
}

// NewRedisStoreWithClient creates a RedisStore on a pre-configured client.
// The caller keeps ownership of the client. Tests use it with miniredis.
func NewRedisStoreWithClient[T any](client redis.UniversalClient, keyPrefix string, opts ...Option) *RedisStore[T] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[T]{
		client:    client,
		keyPrefix: keyPrefix,
		opts:      o,
	}
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func (s *RedisStore[T]) key(state string) string {
	return s.keyPrefix + ":" + state
}

// Create implements Store.
func (s *RedisStore[T]) Create(ctx context.Context, value T) (string, error) {
	for range maxCreateAttempts {
		state, err := s.opts.newState()
		if err != nil {
			return "", err
		}

		data, err := json.Marshal(Record[T]{
			State:     state,
			CreatedAt: s.opts.now().UTC(),
			Status:    StatusPending,
			Context:   value,
		})
		if err != nil {
			return "", fmt.Errorf("failed to marshal transaction: %w", err)
		}

		ok, err := s.client.SetNX(ctx, s.key(state), data, s.opts.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if !ok {
			logger.Warnw("state token collision", "state", logger.Redact(state))
			continue
		}
		return state, nil
	}
	return "", ErrCollision
}

// Peek implements Store.
func (s *RedisStore[T]) Peek(ctx context.Context, state string) (T, error) {
	data, err := s.client.Get(ctx, s.key(state)).Bytes()
	return s.decode(data, err)
}

// Consume implements Store.
func (s *RedisStore[T]) Consume(ctx context.Context, state string) (T, error) {
	data, err := s.client.GetDel(ctx, s.key(state)).Bytes()
	return s.decode(data, err)
}

func (s *RedisStore[T]) decode(data []byte, err error) (T, error) {
	var zero T
	if errors.Is(err, redis.Nil) {
		return zero, ErrNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var rec Record[T]
	if err := json.Unmarshal(data, &rec); err != nil {
		return zero, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	// The key TTL already bounds lifetime; the timestamp check covers clock
	// skew between replicas and keys written without a TTL.
	if rec.Status != StatusPending || rec.expired(s.opts.now(), s.opts.ttl) {
		return zero, ErrNotFound
	}
	return rec.Context, nil
}

// Close closes the Redis client when the store created it.
func (s *RedisStore[T]) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

var _ Store[struct{}] = (*RedisStore[struct{}])(nil)
