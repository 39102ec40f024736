// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package networking builds the outbound HTTP clients used to reach the
// authorization broker, the key set endpoint and the downstream API, and
// holds the small JSON fetch helpers shared by those clients.
package networking

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"
)

// HttpTimeout is the default end-to-end timeout for outgoing HTTP requests.
const HttpTimeout = 30 * time.Second

// ErrRedirectNotAllowed is returned by clients built WithoutRedirects when
// the server answers with a redirect.
var ErrRedirectNotAllowed = errors.New("redirects are not followed")

// HTTPClient is the subset of *http.Client used by the fetch helpers and the
// upstream clients. Tests substitute their own implementation.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

func protectedDialerControl(_, address string, _ syscall.RawConn) error {
	return AddressReferencesPrivateIp(address)
}

// ValidatingTransport refuses requests whose URL is not HTTPS unless
// AllowHTTP is set.
type ValidatingTransport struct {
	Transport http.RoundTripper
	AllowHTTP bool
}

// RoundTrip validates the request URL prior to forwarding
func (t *ValidatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || req.URL.Host == "" {
		return nil, fmt.Errorf("the supplied URL %q is malformed", req.URL)
	}

	switch req.URL.Scheme {
	case "https":
	case "http":
		if !t.AllowHTTP {
			return nil, fmt.Errorf("the supplied URL %s is not HTTPS scheme", req.URL.Redacted())
		}
	default:
		return nil, fmt.Errorf("the supplied URL %s has unsupported scheme %q", req.URL.Redacted(), req.URL.Scheme)
	}

	return t.Transport.RoundTrip(req)
}

// HttpClientBuilder provides a fluent interface for building HTTP clients
type HttpClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
	allowPrivate          bool
	allowHTTP             bool
	followRedirects       bool
}

// NewHttpClientBuilder returns a new HttpClientBuilder
func NewHttpClientBuilder() *HttpClientBuilder {
	return &HttpClientBuilder{
		clientTimeout:         HttpTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
		followRedirects:       true,
	}
}

// WithTimeout sets the overall client timeout.
func (b *HttpClientBuilder) WithTimeout(timeout time.Duration) *HttpClientBuilder {
	if timeout > 0 {
		b.clientTimeout = timeout
	}
	return b
}

// WithCABundle sets the CA certificate bundle path
func (b *HttpClientBuilder) WithCABundle(path string) *HttpClientBuilder {
	b.caCertPath = path
	return b
}

// WithPrivateIPs allows connections to private IP addresses
func (b *HttpClientBuilder) WithPrivateIPs(allow bool) *HttpClientBuilder {
	b.allowPrivate = allow
	return b
}

// WithInsecureHTTP allows plain http:// URLs. Only meant for local development.
func (b *HttpClientBuilder) WithInsecureHTTP(allow bool) *HttpClientBuilder {
	b.allowHTTP = allow
	return b
}

// WithoutRedirects makes the client return ErrRedirectNotAllowed instead of
// following 3xx answers.
func (b *HttpClientBuilder) WithoutRedirects() *HttpClientBuilder {
	b.followRedirects = false
	return b
}

// Build creates the configured HTTP client
func (b *HttpClientBuilder) Build() (*http.Client, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	if !b.allowPrivate {
		transport.DialContext = (&net.Dialer{
			Timeout: b.tlsHandshakeTimeout,
			Control: protectedDialerControl,
		}).DialContext
	}

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath) // #nosec G304 - path comes from operator configuration
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}
		transport.TLSClientConfig.RootCAs = caCertPool
	}

	client := &http.Client{
		Transport: &ValidatingTransport{
			Transport: transport,
			AllowHTTP: b.allowHTTP,
		},
		Timeout: b.clientTimeout,
	}

	if !b.followRedirects {
		client.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
			return ErrRedirectNotAllowed
		}
	}

	return client, nil
}
