// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package registration

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oauthErrors "github.com/tecrolabs/otus-mcp/pkg/errors"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
)

const (
	// ClientIDPrefix starts every issued client id.
	ClientIDPrefix = "mcp_client_"

	// SecretLifetime is how long a confidential client's secret is valid.
	SecretLifetime = 365 * 24 * time.Hour

	clientIDBytes = 16
	secretBytes   = 32

	// maxBodySize is the maximum allowed size for DCR request bodies (64KB).
	maxBodySize = 64 * 1024
)

// Response represents a successful registration per RFC 7591 Section 3.2.1.
type Response struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret,omitempty"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	Scope                   string   `json:"scope,omitempty"`
}

// Handler serves POST /register.
type Handler struct {
	registry Registry
	now      func() time.Time
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithClock overrides the clock used for issue and expiry times.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler creates a registration handler backed by registry.
func NewHandler(registry Registry, opts ...HandlerOption) *Handler {
	h := &Handler{registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req.Body = http.MaxBytesReader(w, req.Body, maxBodySize)

	if !strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		oauthErrors.WriteJSON(w, metadataErr("Content-Type must be application/json"))
		return
	}

	var dcrReq Request
	if err := json.NewDecoder(req.Body).Decode(&dcrReq); err != nil {
		oauthErrors.WriteJSON(w, metadataErr("invalid JSON request body"))
		return
	}

	validated, err := ValidateRequest(&dcrReq)
	if err != nil {
		logger.Debugw("rejected client registration", "error", err)
		oauthErrors.WriteJSON(w, err)
		return
	}

	client, err := h.newClient(validated)
	if err != nil {
		logger.Errorw("failed to create client", "error", err)
		oauthErrors.WriteJSON(w, oauthErrors.NewServerError("failed to create client", err))
		return
	}

	if err := h.registry.Register(req.Context(), client); err != nil {
		logger.Errorw("failed to register client", "error", err)
		oauthErrors.WriteJSON(w, oauthErrors.NewServerError("failed to register client", err))
		return
	}

	logger.Infow("registered new client",
		"client_id", client.ID,
		"client_name", client.ClientName,
		"auth_method", client.TokenEndpointAuthMethod,
	)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toResponse(client)); err != nil {
		logger.Errorw("failed to encode registration response", "error", err)
	}
}

func (h *Handler) newClient(req *Request) (*Client, error) {
	id, err := randomToken(clientIDBytes)
	if err != nil {
		return nil, err
	}
	now := h.now().UTC().Truncate(time.Second)
	client := &Client{
		ID:                      ClientIDPrefix + id,
		IssuedAt:                now,
		RedirectURIs:            req.RedirectURIs,
		ClientName:              req.ClientName,
		ClientURI:               req.ClientURI,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		Scope:                   req.Scope,
	}
	if !client.Public() {
		secret, err := randomToken(secretBytes)
		if err != nil {
			return nil, err
		}
		client.Secret = secret
		client.SecretExpiresAt = now.Add(SecretLifetime)
	}
	return client, nil
}

func toResponse(c *Client) Response {
	resp := Response{
		ClientID:                c.ID,
		ClientSecret:            c.Secret,
		ClientIDIssuedAt:        c.IssuedAt.Unix(),
		RedirectURIs:            c.RedirectURIs,
		ClientName:              c.ClientName,
		ClientURI:               c.ClientURI,
		TokenEndpointAuthMethod: c.TokenEndpointAuthMethod,
		GrantTypes:              c.GrantTypes,
		ResponseTypes:           c.ResponseTypes,
		Scope:                   c.Scope,
	}
	if !c.SecretExpiresAt.IsZero() {
		resp.ClientSecretExpiresAt = c.SecretExpiresAt.Unix()
	}
	return resp
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
