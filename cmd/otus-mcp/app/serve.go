// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tecrolabs/otus-mcp/pkg/ares"
	"github.com/tecrolabs/otus-mcp/pkg/auth"
	"github.com/tecrolabs/otus-mcp/pkg/config"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/mcpserver"
	"github.com/tecrolabs/otus-mcp/pkg/networking"
	"github.com/tecrolabs/otus-mcp/pkg/otus"
	"github.com/tecrolabs/otus-mcp/pkg/registration"
	"github.com/tecrolabs/otus-mcp/pkg/server"
	"github.com/tecrolabs/otus-mcp/pkg/telemetry"
	"github.com/tecrolabs/otus-mcp/pkg/transaction"
	"github.com/tecrolabs/otus-mcp/pkg/versions"
)

// runServe implements the serve command logic
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		return err
	}

	telCfg := cfg.Telemetry
	if telCfg.ServiceVersion == "" {
		telCfg.ServiceVersion = versions.GetVersionInfo().Version
	}
	provider, err := telemetry.NewProvider(telCfg)
	if err != nil {
		return fmt.Errorf("failed to create telemetry provider: %w", err)
	}

	srv, err := buildServer(ctx, cfg, provider)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = provider.Shutdown(context.Background())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(srv.Shutdown(shutdownCtx), provider.Shutdown(shutdownCtx))
}

// buildServer wires every component from cfg.
func buildServer(ctx context.Context, cfg *config.Config, provider *telemetry.Provider) (*server.Server, error) {
	metrics := telemetry.NewMetrics(provider.MeterProvider())

	upstream, err := outboundClient(cfg.Network, false)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}
	// Bearer tokens are forwarded to Otus, so its client never follows redirects.
	downstream, err := outboundClient(cfg.Network, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	keys, err := auth.NewJWKSCache(cfg.Auth.JWKSCacheConfig(), upstream, auth.WithRefreshRecorder(metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create key set cache: %w", err)
	}
	verifier, err := auth.NewVerifier(cfg.Auth.VerifierConfig(), keys, auth.WithVerificationRecorder(metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	broker, err := ares.NewClient(cfg.Ares, upstream, ares.WithRecorder(metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create ares client: %w", err)
	}
	otusClient, err := otus.NewClient(cfg.Otus, downstream, otus.WithRecorder(metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to create otus client: %w", err)
	}

	stores, err := newStores(ctx, cfg, metrics)
	if err != nil {
		return nil, err
	}

	mcp := mcpserver.New(mcpserver.Config{EndpointPath: server.PathMCP}, otusClient)

	srv, err := server.New(server.Config{
		URL:                 cfg.Server.URL,
		Address:             cfg.Server.Address(),
		ReadHeaderTimeout:   cfg.Server.ReadHeaderTimeout,
		Scopes:              cfg.OAuth.Scopes,
		FallbackRedirectURI: cfg.OAuth.RedirectURI,
		AllowedCallbackURLs: cfg.OAuth.AllowedCallbackURLs,
		RegisterRateLimit:   cfg.Server.RegisterRateLimit,
		RegisterBurst:       cfg.Server.RegisterBurst,
	}, server.Dependencies{
		Verifier:       verifier,
		Broker:         broker,
		Registry:       registration.NewMemoryRegistry(),
		Authorizations: stores.authorizations,
		Logins:         stores.logins,
		Codes:          stores.codes,
		MCP:            mcp.Handler(),
		Metrics:        provider.Handler(),
		Instrument:     telemetry.NewHTTPMiddleware(provider.MeterProvider()).Handler,
	})
	if err != nil {
		stores.close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	logger.Infow("otus-mcp configured",
		"url", cfg.Server.URL,
		"transaction_store", cfg.Transaction.Type,
		"issuer", cfg.Auth.Issuer,
		"metrics", cfg.Telemetry.Enabled,
	)
	return srv, nil
}

func outboundClient(cfg config.NetworkConfig, noRedirects bool) (*http.Client, error) {
	b := networking.NewHttpClientBuilder().
		WithCABundle(cfg.CABundle).
		WithPrivateIPs(cfg.AllowPrivateIPs).
		WithInsecureHTTP(cfg.InsecureAllowHTTP).
		WithTimeout(cfg.Timeout)
	if noRedirects {
		b = b.WithoutRedirects()
	}
	return b.Build()
}

type stores struct {
	authorizations transaction.Store[server.PendingAuthorization]
	logins         transaction.Store[server.LoginTransaction]
	codes          transaction.Store[server.IssuedCode]
}

func (s *stores) close() {
	for _, c := range []interface{ Close() error }{s.authorizations, s.logins, s.codes} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warnw("failed to close transaction store", "error", err)
		}
	}
}

// newStores creates the three transaction stores. Authorization codes use
// the shorter code TTL.
func newStores(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*stores, error) {
	s := &stores{}

	authorizations, err := transaction.NewStore[server.PendingAuthorization](ctx, cfg.Transaction, "authorize")
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization store: %w", err)
	}
	s.authorizations = transaction.Instrument(authorizations, "authorize", metrics)

	logins, err := transaction.NewStore[server.LoginTransaction](ctx, cfg.Transaction, "login")
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to create login store: %w", err)
	}
	s.logins = transaction.Instrument(logins, "login", metrics)

	codes, err := transaction.NewStore[server.IssuedCode](ctx, cfg.Transaction, "code", transaction.WithTTL(cfg.OAuth.CodeTTL))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to create code store: %w", err)
	}
	s.codes = transaction.Instrument(codes, "code", metrics)

	return s, nil
}
