// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory keeps transactions in process memory (default).
	TypeMemory Type = "memory"

	// TypeRedis keeps transactions in Redis.
	TypeRedis Type = "redis"

	// DefaultKeyPrefix namespaces every key written by otus-mcp.
	DefaultKeyPrefix = "otus-mcp:"
)

// Config configures the storage backend.
type Config struct {
	// Type selects the backend. Defaults to memory.
	Type Type `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`

	// TTL bounds how long a transaction stays usable. Defaults to DefaultTTL.
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty" mapstructure:"ttl"`

	// CleanupInterval is the in-memory sweep period.
	CleanupInterval time.Duration `json:"cleanup_interval,omitempty" yaml:"cleanup_interval,omitempty" mapstructure:"cleanup_interval"`

	// Redis is required when Type is redis.
	Redis RedisConfig `json:"redis,omitempty" yaml:"redis,omitempty" mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string `json:"addr,omitempty" yaml:"addr,omitempty" mapstructure:"addr"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty" mapstructure:"username"`
	Password  string `json:"-" yaml:"-" mapstructure:"password"`
	DB        int    `json:"db,omitempty" yaml:"db,omitempty" mapstructure:"db"`
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`

	DialTimeout  time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty" mapstructure:"write_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:            TypeMemory,
		TTL:             DefaultTTL,
		CleanupInterval: DefaultCleanupInterval,
		Redis: RedisConfig{
			KeyPrefix: DefaultKeyPrefix,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TTL < 0 {
		return errors.New("ttl must not be negative")
	}
	if c.CleanupInterval < 0 {
		return errors.New("cleanup_interval must not be negative")
	}
	switch c.Type {
	case "", TypeMemory:
		return nil
	case TypeRedis:
		return c.Redis.Validate()
	default:
		return fmt.Errorf("unknown storage type %q", c.Type)
	}
}

// Validate checks the Redis settings.
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return errors.New("redis addr is required")
	}
	if c.DB < 0 {
		return errors.New("redis db must not be negative")
	}
	return nil
}

// NewStore builds the backend selected by cfg. The namespace separates
// independent stores that share a Redis instance.
func NewStore[T any](ctx context.Context, cfg Config, namespace string, opts ...Option) (Store[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	all := append([]Option{WithTTL(cfg.TTL), WithCleanupInterval(cfg.CleanupInterval)}, opts...)

	switch cfg.Type {
	case TypeRedis:
		s, err := NewRedisStore[T](ctx, cfg.Redis, namespace, all...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return NewMemoryStore[T](all...), nil
	}
}
