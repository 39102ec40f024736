// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultClaimsNamespace prefixes the custom claims the broker adds to access tokens.
const DefaultClaimsNamespace = "https://ares/"

// Principal is the authenticated caller behind a verified bearer token.
// It lives for a single request and is never persisted.
type Principal struct {
	// Subject is the 'sub' claim.
	Subject string

	Issuer    string
	Audience  []string
	Scopes    []string
	ExpiresAt time.Time

	// Email, Role and Teams come from the namespaced custom claims.
	Email string
	Role  string
	Teams []string

	// Claims holds every claim of the token.
	Claims jwt.MapClaims

	// Token is the raw bearer token, forwarded unmodified to downstream APIs.
	// It is redacted in String() and MarshalJSON().
	Token string
}

// String returns a representation of the Principal without the token.
func (p *Principal) String() string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Principal{Subject:%q}", p.Subject)
}

// MarshalJSON redacts the token.
func (p *Principal) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}

	type safePrincipal struct {
		Subject   string        `json:"subject"`
		Issuer    string        `json:"issuer"`
		Audience  []string      `json:"audience"`
		Scopes    []string      `json:"scopes"`
		ExpiresAt time.Time     `json:"expiresAt"`
		Email     string        `json:"email,omitempty"`
		Role      string        `json:"role,omitempty"`
		Teams     []string      `json:"teams,omitempty"`
		Claims    jwt.MapClaims `json:"claims"`
		Token     string        `json:"token"`
	}

	token := p.Token
	if token != "" {
		token = "REDACTED"
	}

	return json.Marshal(&safePrincipal{
		Subject:   p.Subject,
		Issuer:    p.Issuer,
		Audience:  p.Audience,
		Scopes:    p.Scopes,
		ExpiresAt: p.ExpiresAt,
		Email:     p.Email,
		Role:      p.Role,
		Teams:     p.Teams,
		Claims:    p.Claims,
		Token:     token,
	})
}

// newPrincipal assumes claims already passed validation.
func newPrincipal(claims jwt.MapClaims, token, namespace string, expiresAt time.Time) *Principal {
	p := &Principal{
		ExpiresAt: expiresAt,
		Claims:    claims,
		Token:     token,
	}
	p.Subject, _ = claims.GetSubject()
	p.Issuer, _ = claims.GetIssuer()
	if aud, err := claims.GetAudience(); err == nil {
		p.Audience = aud
	}

	// Auth0 puts granted scopes in a space separated 'scope'; some issuers use an 'scp' array.
	if scope, ok := claims["scope"].(string); ok {
		p.Scopes = strings.Fields(scope)
	} else {
		p.Scopes = stringList(claims["scp"])
	}

	p.Email, _ = claims[namespace+"email"].(string)
	p.Role, _ = claims[namespace+"role"].(string)
	p.Teams = stringList(claims[namespace+"teams"])
	return p
}

func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.Fields(val)
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
