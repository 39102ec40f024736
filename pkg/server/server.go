// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server is the HTTP surface of otus-mcp: discovery documents,
// dynamic client registration, the OAuth proxy that fronts the Ares broker,
// the fallback login flow and the bearer-protected MCP endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/tecrolabs/otus-mcp/pkg/ares"
	"github.com/tecrolabs/otus-mcp/pkg/auth"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/registration"
	"github.com/tecrolabs/otus-mcp/pkg/transaction"
)

const (
	// DefaultReadHeaderTimeout prevents Slowloris attacks.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultRegisterRateLimit is the sustained registrations per second.
	DefaultRegisterRateLimit = 1.0

	// DefaultRegisterBurst is the registration burst allowance.
	DefaultRegisterBurst = 10

	callbackRateLimit = 10
	callbackBurst     = 20

	// maxFormBodySize bounds token and refresh request bodies.
	maxFormBodySize = 64 * 1024
)

// Route paths.
const (
	PathRoot          = "/"
	PathHealth        = "/healthz"
	PathMetrics       = "/metrics"
	PathRegister      = "/register"
	PathAuthorize     = "/oauth/authorize"
	PathProxyCallback = "/oauth/callback"
	PathToken         = "/oauth/token"
	PathAuthStart     = "/auth/start"
	PathAuthCallback  = "/auth/callback"
	PathAuthRefresh   = "/auth/refresh"
	PathMCP           = "/mcp"
)

// Config holds the server settings.
type Config struct {
	// URL is the canonical public URL of this server.
	URL string

	// Address is the listen address (host:port).
	Address string

	ReadHeaderTimeout time.Duration

	// Scopes are advertised in discovery documents and challenges.
	Scopes []string

	// FallbackRedirectURI is the default callback of the /auth/start flow.
	FallbackRedirectURI string

	// AllowedCallbackURLs may additionally be requested through /auth/start.
	AllowedCallbackURLs []string

	RegisterRateLimit float64
	RegisterBurst     int
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("server url is required")
	}
	c.URL = strings.TrimRight(c.URL, "/")
	if c.FallbackRedirectURI == "" {
		c.FallbackRedirectURI = c.URL + PathAuthCallback
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.RegisterRateLimit <= 0 {
		c.RegisterRateLimit = DefaultRegisterRateLimit
	}
	if c.RegisterBurst <= 0 {
		c.RegisterBurst = DefaultRegisterBurst
	}
	return nil
}

// Dependencies are the collaborators the handlers call.
type Dependencies struct {
	Verifier auth.TokenVerifier
	Broker   ares.Client
	Registry registration.Registry

	// Authorizations holds pending /oauth/authorize flows keyed by the
	// state sent to the broker.
	Authorizations transaction.Store[PendingAuthorization]

	// Logins holds pending /auth/start flows.
	Logins transaction.Store[LoginTransaction]

	// Codes holds authorization codes minted for MCP clients.
	Codes transaction.Store[IssuedCode]

	// MCP is the streamable HTTP handler. It is served behind the bearer middleware.
	MCP http.Handler

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// Instrument wraps the router when set.
	Instrument func(http.Handler) http.Handler
}

func (d Dependencies) validate() error {
	switch {
	case d.Verifier == nil:
		return errors.New("token verifier is required")
	case d.Broker == nil:
		return errors.New("broker client is required")
	case d.Registry == nil:
		return errors.New("client registry is required")
	case d.Authorizations == nil || d.Logins == nil || d.Codes == nil:
		return errors.New("transaction stores are required")
	case d.MCP == nil:
		return errors.New("mcp handler is required")
	}
	return nil
}

// Server serves every otus-mcp endpoint.
type Server struct {
	cfg        Config
	deps       Dependencies
	handler    http.Handler
	httpServer *http.Server
	now        func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithClock overrides the clock used for client secret expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a Server.
func New(cfg Config, deps Dependencies, opts ...Option) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, deps: deps, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.deps.Instrument != nil {
		r.Use(s.deps.Instrument)
	}

	r.Get(PathRoot, s.handleRoot)
	r.Get(PathHealth, s.handleHealth)
	if s.deps.Metrics != nil {
		r.Handle(PathMetrics, s.deps.Metrics)
	}

	s.wellKnownRoutes(r)

	registerLimiter := rate.NewLimiter(rate.Limit(s.cfg.RegisterRateLimit), s.cfg.RegisterBurst)
	r.With(rateLimit(registerLimiter)).Handle(PathRegister, registration.NewHandler(s.deps.Registry))

	callbackLimiter := rate.NewLimiter(callbackRateLimit, callbackBurst)

	r.Get(PathAuthorize, s.handleAuthorize)
	r.With(rateLimit(callbackLimiter)).Get(PathProxyCallback, s.handleProxyCallback)
	r.Post(PathToken, s.handleToken)

	r.Get(PathAuthStart, s.handleAuthStart)
	r.With(rateLimit(callbackLimiter)).Get(PathAuthCallback, s.handleAuthCallback)
	r.Post(PathAuthRefresh, s.handleAuthRefresh)

	r.With(auth.Middleware(s.deps.Verifier, s.challenge())).Handle(PathMCP, s.deps.MCP)

	return r
}

func (s *Server) challenge() auth.Challenge {
	return auth.Challenge{
		ResourceMetadataURL: s.cfg.URL + resourceMetadataPath,
		Scopes:              s.cfg.Scopes,
	}
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	logger.Infof("Starting otus-mcp on %s (public URL %s)", s.cfg.Address, s.cfg.URL)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Serve serves on an existing listener until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server and closes the transaction stores.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Infof("Shutting down otus-mcp...")
	err := s.httpServer.Shutdown(ctx)
	for _, c := range []interface{ Close() error }{s.deps.Authorizations, s.deps.Logins, s.deps.Codes} {
		if cerr := c.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}
	return err
}
