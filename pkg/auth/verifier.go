// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package auth verifies bearer tokens issued by the identity provider and
// guards protected routes with them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultAlgorithms is the signature algorithm allow-list used when none is configured.
var DefaultAlgorithms = []string{"RS256"}

// TokenVerifier verifies a bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Principal, error)
}

// VerificationRecorder is notified of every verification outcome: "ok" or
// the failure reason.
type VerificationRecorder interface {
	RecordVerification(ctx context.Context, outcome string)
}

// VerifierConfig holds the expectations a token must meet.
type VerifierConfig struct {
	Issuer   string
	Audience string

	// Algorithms is the signature allow-list. Defaults to DefaultAlgorithms.
	// "none" is never accepted.
	Algorithms []string

	// ClaimsNamespace prefixes custom claims. Defaults to DefaultClaimsNamespace.
	ClaimsNamespace string

	// ClockSkew is tolerated when checking exp.
	ClockSkew time.Duration
}

// Validate checks the configuration.
func (c *VerifierConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if c.Audience == "" {
		return errors.New("audience is required")
	}
	for _, alg := range c.Algorithms {
		if strings.EqualFold(alg, "none") {
			return errors.New(`algorithm "none" is not allowed`)
		}
	}
	if c.ClockSkew < 0 {
		return errors.New("clock skew must not be negative")
	}
	return nil
}

// Verifier validates RS256 access tokens against the issuer's key set.
type Verifier struct {
	issuer     string
	audience   string
	algorithms []string
	namespace  string
	skew       time.Duration

	keys     KeyResolver
	now      func() time.Time
	recorder VerificationRecorder
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock replaces time.Now when checking exp.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// WithVerificationRecorder reports outcomes to r.
func WithVerificationRecorder(r VerificationRecorder) VerifierOption {
	return func(v *Verifier) {
		v.recorder = r
	}
}

// NewVerifier creates a Verifier resolving signing keys through keys.
func NewVerifier(cfg VerifierConfig, keys KeyResolver, opts ...VerifierOption) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid verifier config: %w", err)
	}
	if keys == nil {
		return nil, errors.New("key resolver is required")
	}

	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = DefaultAlgorithms
	}
	ns := cfg.ClaimsNamespace
	if ns == "" {
		ns = DefaultClaimsNamespace
	}

	v := &Verifier{
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		algorithms: slices.Clone(algs),
		namespace:  ns,
		skew:       cfg.ClockSkew,
		keys:       keys,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks structure, key, signature and claims, in that order, and
// returns the Principal. Every error is a *VerificationFailure.
func (v *Verifier) Verify(ctx context.Context, token string) (*Principal, error) {
	p, err := v.verify(ctx, token)
	if v.recorder != nil {
		outcome := "ok"
		if err != nil {
			outcome = string(err.Reason)
		}
		v.recorder.RecordVerification(ctx, outcome)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (*Principal, *VerificationFailure) {
	if token == "" {
		return nil, newFailure(ReasonMalformed, errors.New("empty token"))
	}

	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) || unverified == nil {
			return nil, newFailure(ReasonMalformed, err)
		}
		// Structurally sound but the alg is unknown to the library.
		return nil, newFailure(ReasonBadSignature, err)
	}

	// Reject disallowed algorithms before touching the key set, so forged
	// headers cannot drive refreshes.
	alg, _ := unverified.Header["alg"].(string)
	if !slices.Contains(v.algorithms, alg) {
		return nil, newFailure(ReasonBadSignature, fmt.Errorf("algorithm %q not allowed", alg))
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, newFailure(ReasonUnknownKey, errors.New("token header missing kid"))
	}

	key, err := v.keys.Key(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrKeySourceUnavailable) {
			return nil, newFailure(ReasonKeySourceUnavailable, err)
		}
		return nil, newFailure(ReasonUnknownKey, err)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods(v.algorithms),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, newFailure(ReasonMalformed, err)
		}
		return nil, newFailure(ReasonBadSignature, err)
	}

	expiresAt, failure := v.validateClaims(claims)
	if failure != nil {
		return nil, failure
	}

	return newPrincipal(claims, token, v.namespace, expiresAt), nil
}

func (v *Verifier) validateClaims(claims jwt.MapClaims) (time.Time, *VerificationFailure) {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, claimFailure(ClaimExp)
	}
	if !v.now().Before(exp.Add(v.skew)) {
		return time.Time{}, claimFailure(ClaimExp)
	}

	iss, err := claims.GetIssuer()
	if err != nil || iss != v.issuer {
		return time.Time{}, claimFailure(ClaimIss)
	}

	aud, err := claims.GetAudience()
	if err != nil || !slices.Contains(aud, v.audience) {
		return time.Time{}, claimFailure(ClaimAud)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return time.Time{}, claimFailure(ClaimSub)
	}

	return exp.Time, nil
}
