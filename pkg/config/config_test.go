// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tecrolabs/otus-mcp/pkg/transaction"
)

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Address())
	assert.Equal(t, "http://localhost:8000", cfg.Server.URL)
	assert.Equal(t, "http://localhost:8000/auth/callback", cfg.OAuth.RedirectURI)
	assert.Equal(t, []string{"openid", "profile", "email", "offline_access"}, cfg.OAuth.Scopes)
	assert.Equal(t, 5*time.Minute, cfg.OAuth.CodeTTL)

	assert.Equal(t, "https://tecro-api.tecrolabs.dev/ares/api/login", cfg.Ares.TokenURL)
	assert.Equal(t, "Trace-Id", cfg.Ares.TraceIDHeader)

	assert.Equal(t, []string{"RS256"}, cfg.Auth.Algorithms)
	assert.Equal(t, "https://ares/", cfg.Auth.ClaimsNamespace)
	assert.Equal(t, 5*time.Minute, cfg.Auth.JWKSTTL)
	assert.Equal(t, 30*time.Second, cfg.Auth.JWKSMinRefreshInterval)

	assert.Equal(t, "https://tecro-api.tecrolabs.dev/otus/teams", cfg.Otus.TeamsURL())
	assert.Equal(t, transaction.TypeMemory, cfg.Transaction.Type)
	assert.Equal(t, 10*time.Minute, cfg.Transaction.TTL)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_FileAndEnvironment(t *testing.T) { //nolint:paralleltest // Uses t.Setenv
	dir := t.TempDir()
	path := filepath.Join(dir, "otus-mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  url: https://mcp.example.com
auth:
  audience: https://api.example.com/
  algorithms: [RS256, RS384]
transaction:
  type: redis
  ttl: 2m
  redis:
    addr: localhost:6379
    password: hunter2
`), 0o600))

	t.Setenv("OTUS_MCP_SERVER_PORT", "9100")
	t.Setenv("OTUS_MCP_OTUS_BASE_URL", "https://otus.example.com")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "https://mcp.example.com", cfg.Server.URL)
	assert.Equal(t, "https://api.example.com/", cfg.Auth.Audience)
	assert.Equal(t, []string{"RS256", "RS384"}, cfg.Auth.Algorithms)
	assert.Equal(t, "https://otus.example.com", cfg.Otus.BaseURL)
	assert.Equal(t, transaction.TypeRedis, cfg.Transaction.Type)
	assert.Equal(t, 2*time.Minute, cfg.Transaction.TTL)
	assert.Equal(t, "hunter2", cfg.Transaction.Redis.Password)

	out, err := cfg.YAML()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	var roundTrip map[string]any
	require.NoError(t, yaml.Unmarshal(out, &roundTrip))
	assert.Contains(t, roundTrip, "ares")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server: port"},
		{"relative server url", func(c *Config) { c.Server.URL = "localhost:8000" }, "server: url"},
		{"no scopes", func(c *Config) { c.OAuth.Scopes = nil }, "oauth: at least one scope"},
		{"bad callback allow-list", func(c *Config) { c.OAuth.AllowedCallbackURLs = []string{"/cb"} }, "oauth: allowed callback url"},
		{"alg none", func(c *Config) { c.Auth.Algorithms = []string{"none"} }, `auth: algorithm "none"`},
		{"empty algorithms", func(c *Config) { c.Auth.Algorithms = nil }, "auth: at least one algorithm"},
		{"missing audience", func(c *Config) { c.Auth.Audience = "" }, "auth: audience is required"},
		{"zero jwks ttl", func(c *Config) { c.Auth.JWKSTTL = 0 }, "auth: jwks durations"},
		{"bad ares url", func(c *Config) { c.Ares.TokenURL = "nope" }, "ares:"},
		{"bad otus url", func(c *Config) { c.Otus.BaseURL = "" }, "otus:"},
		{"unknown store", func(c *Config) { c.Transaction.Type = "etcd" }, "transaction:"},
		{"missing ca bundle", func(c *Config) { c.Network.CABundle = "/does/not/exist.pem" }, "network: ca_bundle"},
		{"zero network timeout", func(c *Config) { c.Network.Timeout = 0 }, "network: timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load(viper.New(), "")
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllSections(t *testing.T) {
	t.Parallel()

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Otus.BaseURL = ""

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server:")
	assert.Contains(t, err.Error(), "otus:")
}
