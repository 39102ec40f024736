// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://tenant.auth0.example.com/"
	testAudience = "https://otus.example.com/api"
	testKeyID    = "key-1"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	signingKeyOnce sync.Once
	signingKeys    [2]*rsa.PrivateKey
)

// testSigningKeys returns two RSA keys shared by all tests in the package.
func testSigningKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	signingKeyOnce.Do(func() {
		for i := range signingKeys {
			key, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			signingKeys[i] = key
		}
	})
	return signingKeys[0], signingKeys[1]
}

// newKeySet builds a JWKS holding the public half of each key under its kid.
func newKeySet(t *testing.T, keys map[string]*rsa.PrivateKey) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	for kid, priv := range keys {
		key, err := jwk.Import(&priv.PublicKey)
		require.NoError(t, err)
		require.NoError(t, key.Set(jwk.KeyIDKey, kid))
		require.NoError(t, key.Set(jwk.KeyUsageKey, "sig"))
		require.NoError(t, set.AddKey(key))
	}
	return set
}

// jwksServer is a key set endpoint whose content and health tests can change.
type jwksServer struct {
	*httptest.Server

	fetches atomic.Int32

	mu      sync.Mutex
	body    []byte
	failing bool
	gate    chan struct{}
	started chan struct{}
}

func newJWKSServer(t *testing.T, set jwk.Set) *jwksServer {
	t.Helper()
	s := &jwksServer{started: make(chan struct{}, 64)}
	s.setKeys(t, set)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.fetches.Add(1)
		s.started <- struct{}{}

		s.mu.Lock()
		gate, body, failing := s.gate, s.body, s.failing
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if failing {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKeys(t *testing.T, set jwk.Set) {
	t.Helper()
	buf, err := json.Marshal(set)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = buf
}

func (s *jwksServer) setFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// hold makes requests block until the returned release func is called.
func (s *jwksServer) hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *jwksServer) count() int {
	return int(s.fetches.Load())
}

func newTestCache(t *testing.T, url string, clock *testClock, opts ...JWKSCacheOption) *JWKSCache {
	t.Helper()
	opts = append([]JWKSCacheOption{WithJWKSClock(clock.Now)}, opts...)
	cache, err := NewJWKSCache(JWKSCacheConfig{URL: url, FetchTimeout: time.Second}, http.DefaultClient, opts...)
	require.NoError(t, err)
	return cache
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                testIssuer,
		"aud":                []string{testAudience, testIssuer + "userinfo"},
		"sub":                "auth0|user-42",
		"exp":                testEpoch.Add(time.Hour).Unix(),
		"iat":                testEpoch.Add(-time.Minute).Unix(),
		"scope":              "openid profile email",
		"https://ares/email": "ada@example.com",
		"https://ares/role":  "admin",
		"https://ares/teams": []string{"platform", "search"},
	}
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

// staticKeys resolves keys from a fixed map, or fails with err when set.
type staticKeys struct {
	keys  map[string]any
	err   error
	calls atomic.Int32
}

func (s *staticKeys) Key(_ context.Context, kid string) (any, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	key, ok := s.keys[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *outcomeRecorder) RecordVerification(_ context.Context, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *outcomeRecorder) RecordKeySetRefresh(_ context.Context, outcome string) {
	r.RecordVerification(context.Background(), "refresh:"+outcome)
}

func (r *outcomeRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes...)
}
