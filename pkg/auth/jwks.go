// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/sync/singleflight"

	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/networking"
)

const (
	// DefaultJWKSTTL is how long a fetched key set is considered fresh.
	DefaultJWKSTTL = 5 * time.Minute

	// DefaultJWKSMinRefreshInterval bounds how often the key endpoint is hit,
	// whatever triggers the refresh.
	DefaultJWKSMinRefreshInterval = 30 * time.Second

	// DefaultJWKSFetchTimeout bounds a single key set fetch.
	DefaultJWKSFetchTimeout = 5 * time.Second

	// maxJWKSSize caps the key set document.
	maxJWKSSize = 1 << 20

	refreshKey = "jwks"
)

var (
	// ErrKeyNotFound is returned when the key set has no key for the requested kid.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeySourceUnavailable is returned when the key set cannot be fetched.
	ErrKeySourceUnavailable = errors.New("key set unavailable")
)

// KeyResolver maps a key id to a verification key.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (any, error)
}

// RefreshRecorder is notified after every key set fetch attempt.
type RefreshRecorder interface {
	RecordKeySetRefresh(ctx context.Context, outcome string)
}

// JWKSCacheConfig configures a JWKSCache.
type JWKSCacheConfig struct {
	// URL is the key set publication endpoint.
	URL string

	// TTL defaults to DefaultJWKSTTL.
	TTL time.Duration

	// MinRefreshInterval defaults to DefaultJWKSMinRefreshInterval.
	MinRefreshInterval time.Duration

	// FetchTimeout defaults to DefaultJWKSFetchTimeout.
	FetchTimeout time.Duration
}

// JWKSCache holds the issuer's published signing keys.
//
// A fresh set is served directly. A stale set is still served while a single
// background refresh runs. A lookup for an unknown kid triggers one
// synchronous refresh, unless the endpoint was contacted less than
// MinRefreshInterval ago. Concurrent refreshes collapse into one fetch.
type JWKSCache struct {
	url                string
	client             networking.HTTPClient
	ttl                time.Duration
	minRefreshInterval time.Duration
	fetchTimeout       time.Duration
	now                func() time.Time
	recorder           RefreshRecorder

	mu            sync.RWMutex
	set           jwk.Set
	lastRefreshed time.Time
	lastAttempt   time.Time
	lastErr       error

	group        singleflight.Group
	revalidating atomic.Bool
}

// JWKSCacheOption customises a JWKSCache.
type JWKSCacheOption func(*JWKSCache)

// WithJWKSClock replaces time.Now.
func WithJWKSClock(now func() time.Time) JWKSCacheOption {
	return func(c *JWKSCache) {
		c.now = now
	}
}

// WithRefreshRecorder reports fetch outcomes to r.
func WithRefreshRecorder(r RefreshRecorder) JWKSCacheOption {
	return func(c *JWKSCache) {
		c.recorder = r
	}
}

// NewJWKSCache creates an empty cache. The first lookup fetches the key set.
func NewJWKSCache(cfg JWKSCacheConfig, client networking.HTTPClient, opts ...JWKSCacheOption) (*JWKSCache, error) {
	if cfg.URL == "" {
		return nil, errors.New("jwks url is required")
	}
	if client == nil {
		return nil, errors.New("http client is required")
	}

	c := &JWKSCache{
		url:                cfg.URL,
		client:             client,
		ttl:                positiveOr(cfg.TTL, DefaultJWKSTTL),
		minRefreshInterval: positiveOr(cfg.MinRefreshInterval, DefaultJWKSMinRefreshInterval),
		fetchTimeout:       positiveOr(cfg.FetchTimeout, DefaultJWKSFetchTimeout),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func positiveOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// LastRefreshed returns when the key set was last fetched successfully.
func (c *JWKSCache) LastRefreshed() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefreshed
}

// Key implements KeyResolver.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.RLock()
	set := c.set
	fresh := set != nil && c.now().Sub(c.lastRefreshed) < c.ttl
	c.mu.RUnlock()

	if set == nil {
		var err error
		if set, err = c.refresh(ctx); err != nil {
			if !errors.Is(err, errRefreshThrottled) {
				return nil, err
			}
			// Another caller filled the cache between the read and the refresh.
			c.mu.RLock()
			set = c.set
			c.mu.RUnlock()
		}
	} else if !fresh {
		c.revalidate()
	}

	if key, ok := set.LookupKeyID(kid); ok {
		return exportKey(key)
	}

	// Unknown kid: the issuer may have rotated keys since the last fetch.
	set, err := c.refresh(ctx)
	if err != nil {
		if errors.Is(err, errRefreshThrottled) {
			return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
		}
		return nil, err
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return exportKey(key)
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, kid)
}

var errRefreshThrottled = errors.New("key set refresh throttled")

// refresh fetches the key set unless the endpoint was contacted within
// minRefreshInterval. Concurrent callers share one fetch; the fetch itself is
// detached from the caller's cancellation so an impatient caller cannot abort
// it for everyone else.
func (c *JWKSCache) refresh(ctx context.Context) (jwk.Set, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		c.mu.Lock()
		if !c.lastAttempt.IsZero() && c.now().Sub(c.lastAttempt) < c.minRefreshInterval {
			set, lastErr := c.set, c.lastErr
			c.mu.Unlock()
			if set == nil {
				return nil, fmt.Errorf("%w: %w", ErrKeySourceUnavailable, lastErr)
			}
			return nil, errRefreshThrottled
		}
		c.lastAttempt = c.now()
		c.mu.Unlock()

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		set, err := c.fetch(fetchCtx)

		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil {
			c.lastErr = err
			c.record(ctx, refreshOutcome(err))
			if httpErr, ok := networking.AsHTTPError(err); ok && !httpErr.Temporary() {
				logger.Errorw("key set endpoint rejected the request, check the jwks url", "url", c.url, "status", httpErr.StatusCode)
			} else {
				logger.Warnw("failed to refresh key set", "url", c.url, "error", err)
			}
			return nil, fmt.Errorf("%w: %w", ErrKeySourceUnavailable, err)
		}
		c.set = set
		c.lastRefreshed = c.now()
		c.lastErr = nil
		c.record(ctx, "ok")
		logger.Debugw("refreshed key set", "url", c.url, "keys", set.Len())
		return set, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(jwk.Set), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrKeySourceUnavailable, ctx.Err())
	}
}

// revalidate starts one background refresh of a stale key set.
func (c *JWKSCache) revalidate() {
	if !c.revalidating.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.revalidating.Store(false)
		if _, err := c.refresh(context.Background()); err != nil && !errors.Is(err, errRefreshThrottled) {
			logger.Debugw("background key set refresh failed, serving stale keys", "error", err)
		}
	}()
}

func (c *JWKSCache) fetch(ctx context.Context) (jwk.Set, error) {
	result, err := networking.FetchJSON[json.RawMessage](ctx, c.client, c.url,
		networking.WithoutContentTypeValidation(),
		networking.WithMaxResponseSize(maxJWKSSize),
	)
	if err != nil {
		return nil, err
	}
	set, err := jwk.Parse(result.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key set: %w", err)
	}
	return set, nil
}

// refreshOutcome labels a failed fetch: "http_4xx", "http_5xx" or "error".
func refreshOutcome(err error) string {
	if httpErr, ok := networking.AsHTTPError(err); ok {
		return "http_" + httpErr.Class()
	}
	return "error"
}

func (c *JWKSCache) record(ctx context.Context, outcome string) {
	if c.recorder != nil {
		c.recorder.RecordKeySetRefresh(ctx, outcome)
	}
}

func exportKey(key jwk.Key) (any, error) {
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("failed to export key: %w", err)
	}
	return raw, nil
}
