// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads the otus-mcp configuration from defaults, an optional
// YAML file and OTUS_MCP_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tecrolabs/otus-mcp/pkg/ares"
	"github.com/tecrolabs/otus-mcp/pkg/auth"
	"github.com/tecrolabs/otus-mcp/pkg/networking"
	"github.com/tecrolabs/otus-mcp/pkg/otus"
	"github.com/tecrolabs/otus-mcp/pkg/telemetry"
	"github.com/tecrolabs/otus-mcp/pkg/transaction"
)

// EnvPrefix prefixes every environment variable, e.g. OTUS_MCP_SERVER_PORT.
const EnvPrefix = "OTUS_MCP"

// Config is the complete server configuration.
type Config struct {
	Server      ServerConfig       `json:"server" yaml:"server" mapstructure:"server"`
	OAuth       OAuthConfig        `json:"oauth" yaml:"oauth" mapstructure:"oauth"`
	Ares        ares.Config        `json:"ares" yaml:"ares" mapstructure:"ares"`
	Auth        AuthConfig         `json:"auth" yaml:"auth" mapstructure:"auth"`
	Otus        otus.Config        `json:"otus" yaml:"otus" mapstructure:"otus"`
	Transaction transaction.Config `json:"transaction" yaml:"transaction" mapstructure:"transaction"`
	Telemetry   telemetry.Config   `json:"telemetry" yaml:"telemetry" mapstructure:"telemetry"`
	Network     NetworkConfig      `json:"network" yaml:"network" mapstructure:"network"`
}

// ServerConfig configures the listener.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" mapstructure:"host"`
	Port int    `json:"port" yaml:"port" mapstructure:"port"`

	// URL is the canonical public URL of this server. It is the protected
	// resource identifier and the base of every advertised endpoint.
	URL string `json:"url" yaml:"url" mapstructure:"url"`

	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout" mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// RegisterRateLimit is the sustained number of registrations per second
	// accepted on /register, with RegisterBurst headroom.
	RegisterRateLimit float64 `json:"register_rate_limit" yaml:"register_rate_limit" mapstructure:"register_rate_limit"`
	RegisterBurst     int     `json:"register_burst" yaml:"register_burst" mapstructure:"register_burst"`
}

// Address returns host:port for the listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// OAuthConfig configures both authorization flows.
type OAuthConfig struct {
	// RedirectURI is the callback the fallback /auth/start flow hands to Ares.
	RedirectURI string `json:"redirect_uri" yaml:"redirect_uri" mapstructure:"redirect_uri"`

	// AllowedCallbackURLs may be requested through /auth/start?callback_url=.
	// RedirectURI is always allowed.
	AllowedCallbackURLs []string `json:"allowed_callback_urls" yaml:"allowed_callback_urls" mapstructure:"allowed_callback_urls"`

	// Scopes are advertised in discovery documents and challenges.
	Scopes []string `json:"scopes" yaml:"scopes" mapstructure:"scopes"`

	// CodeTTL bounds how long an authorization code minted by /oauth/callback
	// stays redeemable.
	CodeTTL time.Duration `json:"code_ttl" yaml:"code_ttl" mapstructure:"code_ttl"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWKSURL         string        `json:"jwks_url" yaml:"jwks_url" mapstructure:"jwks_url"`
	Issuer          string        `json:"issuer" yaml:"issuer" mapstructure:"issuer"`
	Audience        string        `json:"audience" yaml:"audience" mapstructure:"audience"`
	Algorithms      []string      `json:"algorithms" yaml:"algorithms" mapstructure:"algorithms"`
	ClaimsNamespace string        `json:"claims_namespace" yaml:"claims_namespace" mapstructure:"claims_namespace"`
	ClockSkew       time.Duration `json:"clock_skew" yaml:"clock_skew" mapstructure:"clock_skew"`

	JWKSTTL                time.Duration `json:"jwks_ttl" yaml:"jwks_ttl" mapstructure:"jwks_ttl"`
	JWKSMinRefreshInterval time.Duration `json:"jwks_min_refresh_interval" yaml:"jwks_min_refresh_interval" mapstructure:"jwks_min_refresh_interval"`
	JWKSFetchTimeout       time.Duration `json:"jwks_fetch_timeout" yaml:"jwks_fetch_timeout" mapstructure:"jwks_fetch_timeout"`
}

// VerifierConfig returns the token expectations.
func (a AuthConfig) VerifierConfig() auth.VerifierConfig {
	return auth.VerifierConfig{
		Issuer:          a.Issuer,
		Audience:        a.Audience,
		Algorithms:      a.Algorithms,
		ClaimsNamespace: a.ClaimsNamespace,
		ClockSkew:       a.ClockSkew,
	}
}

// JWKSCacheConfig returns the key set cache policy.
func (a AuthConfig) JWKSCacheConfig() auth.JWKSCacheConfig {
	return auth.JWKSCacheConfig{
		URL:                a.JWKSURL,
		TTL:                a.JWKSTTL,
		MinRefreshInterval: a.JWKSMinRefreshInterval,
		FetchTimeout:       a.JWKSFetchTimeout,
	}
}

// NetworkConfig controls outbound HTTP clients.
type NetworkConfig struct {
	// CABundle is an optional PEM file trusted in addition to the system roots.
	CABundle string `json:"ca_bundle" yaml:"ca_bundle" mapstructure:"ca_bundle"`

	// AllowPrivateIPs permits upstreams on private or loopback addresses.
	AllowPrivateIPs bool `json:"allow_private_ips" yaml:"allow_private_ips" mapstructure:"allow_private_ips"`

	// InsecureAllowHTTP permits plain http upstreams. Development only.
	InsecureAllowHTTP bool `json:"insecure_allow_http" yaml:"insecure_allow_http" mapstructure:"insecure_allow_http"`

	// Timeout caps every outbound request, including reading the body.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// SetDefaults registers every default on v. Registering all keys also makes
// them visible to AutomaticEnv during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.url", "http://localhost:8000")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.register_rate_limit", 1.0)
	v.SetDefault("server.register_burst", 10)

	v.SetDefault("oauth.redirect_uri", "http://localhost:8000/auth/callback")
	v.SetDefault("oauth.allowed_callback_urls", []string{})
	v.SetDefault("oauth.scopes", []string{"openid", "profile", "email", "offline_access"})
	v.SetDefault("oauth.code_ttl", 5*time.Minute)

	v.SetDefault("ares.authorize_url", "https://tecro-api.tecrolabs.dev/ares/api/authorize")
	v.SetDefault("ares.token_url", "https://tecro-api.tecrolabs.dev/ares/api/login")
	v.SetDefault("ares.refresh_url", "https://tecro-api.tecrolabs.dev/ares/api/refresh_token")
	v.SetDefault("ares.issuer", "https://tecro-api.tecrolabs.dev/ares")
	v.SetDefault("ares.trace_id_header", ares.DefaultTraceIDHeader)
	v.SetDefault("ares.timeout", ares.DefaultTimeout)

	v.SetDefault("auth.jwks_url", "https://square-test-ttt.us.auth0.com/.well-known/jwks.json")
	v.SetDefault("auth.issuer", "https://square-test-ttt.us.auth0.com/")
	v.SetDefault("auth.audience", "https://square-test-ttt.us.auth0.com/api/v2/")
	v.SetDefault("auth.algorithms", slices.Clone(auth.DefaultAlgorithms))
	v.SetDefault("auth.claims_namespace", auth.DefaultClaimsNamespace)
	v.SetDefault("auth.clock_skew", time.Duration(0))
	v.SetDefault("auth.jwks_ttl", auth.DefaultJWKSTTL)
	v.SetDefault("auth.jwks_min_refresh_interval", auth.DefaultJWKSMinRefreshInterval)
	v.SetDefault("auth.jwks_fetch_timeout", auth.DefaultJWKSFetchTimeout)

	v.SetDefault("otus.base_url", "https://tecro-api.tecrolabs.dev/otus")
	v.SetDefault("otus.teams_path", otus.DefaultTeamsPath)
	v.SetDefault("otus.timeout", otus.DefaultTimeout)
	v.SetDefault("otus.max_attempts", otus.DefaultMaxAttempts)

	txn := transaction.DefaultConfig()
	v.SetDefault("transaction.type", string(txn.Type))
	v.SetDefault("transaction.ttl", txn.TTL)
	v.SetDefault("transaction.cleanup_interval", txn.CleanupInterval)
	v.SetDefault("transaction.redis.addr", "")
	v.SetDefault("transaction.redis.username", "")
	v.SetDefault("transaction.redis.password", "")
	v.SetDefault("transaction.redis.db", 0)
	v.SetDefault("transaction.redis.key_prefix", txn.Redis.KeyPrefix)

	tel := telemetry.DefaultConfig()
	v.SetDefault("telemetry.enabled", tel.Enabled)
	v.SetDefault("telemetry.service_name", tel.ServiceName)
	v.SetDefault("telemetry.service_version", tel.ServiceVersion)
	v.SetDefault("telemetry.include_runtime_metrics", tel.IncludeRuntimeMetrics)

	v.SetDefault("network.ca_bundle", "")
	v.SetDefault("network.allow_private_ips", false)
	v.SetDefault("network.insecure_allow_http", false)
	v.SetDefault("network.timeout", networking.HttpTimeout)
}

// Load builds the configuration from v. When path is non-empty the YAML
// file is read first; environment variables override it.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}
