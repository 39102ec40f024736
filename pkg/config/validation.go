// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/tecrolabs/otus-mcp/pkg/networking"
)

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error, section string) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}

	add(c.Server.validate(), "server")
	add(c.OAuth.validate(), "oauth")
	add(c.Ares.Validate(), "ares")
	add(c.Auth.validate(), "auth")
	add(c.Otus.Validate(), "otus")
	add(c.Transaction.Validate(), "transaction")
	add(c.Network.validate(), "network")

	return errors.Join(errs...)
}

func (s ServerConfig) validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d is out of range", s.Port)
	}
	if !networking.IsURL(s.URL) {
		return fmt.Errorf("url %q is not an absolute URL", s.URL)
	}
	if s.ReadHeaderTimeout <= 0 {
		return errors.New("read_header_timeout must be positive")
	}
	if s.RegisterRateLimit <= 0 || s.RegisterBurst <= 0 {
		return errors.New("register_rate_limit and register_burst must be positive")
	}
	return nil
}

func (o OAuthConfig) validate() error {
	if !networking.IsURL(o.RedirectURI) {
		return fmt.Errorf("redirect_uri %q is not an absolute URL", o.RedirectURI)
	}
	for _, u := range o.AllowedCallbackURLs {
		if !networking.IsURL(u) {
			return fmt.Errorf("allowed callback url %q is not an absolute URL", u)
		}
	}
	if len(o.Scopes) == 0 {
		return errors.New("at least one scope is required")
	}
	if o.CodeTTL <= 0 {
		return errors.New("code_ttl must be positive")
	}
	return nil
}

func (a AuthConfig) validate() error {
	if !networking.IsURL(a.JWKSURL) {
		return fmt.Errorf("jwks_url %q is not an absolute URL", a.JWKSURL)
	}
	if len(a.Algorithms) == 0 {
		return errors.New("at least one algorithm is required")
	}
	vc := a.VerifierConfig()
	if err := vc.Validate(); err != nil {
		return err
	}
	if a.JWKSTTL <= 0 || a.JWKSMinRefreshInterval <= 0 || a.JWKSFetchTimeout <= 0 {
		return errors.New("jwks durations must be positive")
	}
	return nil
}

func (n NetworkConfig) validate() error {
	if n.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if n.CABundle == "" {
		return nil
	}
	if _, err := os.Stat(n.CABundle); err != nil {
		return fmt.Errorf("ca_bundle not accessible: %w", err)
	}
	return nil
}
