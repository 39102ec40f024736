// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/tecrolabs/otus-mcp/pkg/oauth"
)

// ErrClientNotFound is returned when no client is registered under an id.
var ErrClientNotFound = errors.New("client not found")

// Client is a registered OAuth client.
type Client struct {
	ID                      string
	Secret                  string
	SecretExpiresAt         time.Time
	IssuedAt                time.Time
	RedirectURIs            []string
	ClientName              string
	ClientURI               string
	TokenEndpointAuthMethod string
	GrantTypes              []string
	ResponseTypes           []string
	Scope                   string
}

// Public reports whether the client authenticates without a secret.
func (c *Client) Public() bool {
	return c.TokenEndpointAuthMethod == oauth.TokenEndpointAuthMethodNone
}

// HasRedirectURI reports whether uri exactly matches a registered redirect URI.
func (c *Client) HasRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}

// AllowsGrant reports whether the client registered the grant type.
func (c *Client) AllowsGrant(grantType string) bool {
	return slices.Contains(c.GrantTypes, grantType)
}

// Authenticate checks a presented secret. Public clients always pass; a
// confidential client fails once its secret has expired.
func (c *Client) Authenticate(secret string, now time.Time) bool {
	if c.Public() {
		return true
	}
	if !c.SecretExpiresAt.IsZero() && !now.Before(c.SecretExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) == 1
}

// Registry stores registered clients.
type Registry interface {
	Register(ctx context.Context, client *Client) error
	Get(ctx context.Context, id string) (*Client, error)
}

// MemoryRegistry is an in-process Registry. Registrations do not survive
// a restart.
type MemoryRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{clients: make(map[string]*Client)}
}

// Register implements Registry.
func (r *MemoryRegistry) Register(_ context.Context, client *Client) error {
	if client == nil || client.ID == "" {
		return errors.New("client id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.ID]; ok {
		return errors.New("client id already registered")
	}
	cp := *client
	r.clients[client.ID] = &cp
	return nil
}

// Get implements Registry.
func (r *MemoryRegistry) Get(_ context.Context, id string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}
