// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ares is the client for the Ares authorization broker, which fronts
// the identity provider's login page and token endpoint.
package ares

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/networking"
	"github.com/tecrolabs/otus-mcp/pkg/oauth"
)

const (
	// DefaultTraceIDHeader is the header Ares requires on every call.
	DefaultTraceIDHeader = "Trace-Id"

	// DefaultTimeout bounds every broker call.
	DefaultTimeout = 10 * time.Second

	maxResponseSize = 64 << 10
)

const (
	opAuthorize = "authorize"
	opExchange  = "exchange_code"
	opRefresh   = "refresh_token"
)

// Client talks to the broker.
type Client interface {
	// Authorize asks the broker for the provider login URL that will
	// eventually redirect back to callbackURL.
	Authorize(ctx context.Context, callbackURL string) (string, error)

	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code, callbackURL string) (*oauth.TokenResponse, error)

	// Refresh trades a refresh token for new tokens.
	Refresh(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error)
}

// UpstreamRecorder is notified of the duration of every broker call.
type UpstreamRecorder interface {
	RecordUpstream(ctx context.Context, upstream, operation string, duration time.Duration, err error)
}

// Config holds the broker endpoints.
type Config struct {
	AuthorizeURL  string `json:"authorize_url" yaml:"authorize_url" mapstructure:"authorize_url"`
	TokenURL      string `json:"token_url" yaml:"token_url" mapstructure:"token_url"`
	RefreshURL    string `json:"refresh_url" yaml:"refresh_url" mapstructure:"refresh_url"`
	Issuer        string `json:"issuer" yaml:"issuer" mapstructure:"issuer"`
	TraceIDHeader string `json:"trace_id_header" yaml:"trace_id_header" mapstructure:"trace_id_header"`

	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// Validate checks that every endpoint is an absolute URL.
func (c Config) Validate() error {
	for name, u := range map[string]string{
		"authorize url": c.AuthorizeURL,
		"token url":     c.TokenURL,
		"refresh url":   c.RefreshURL,
	} {
		if !networking.IsURL(u) {
			return fmt.Errorf("ares %s %q is not an absolute URL", name, u)
		}
	}
	if c.Timeout < 0 {
		return errors.New("ares timeout must not be negative")
	}
	return nil
}

// BrokerError is a non-200 answer from the broker. Code and Message come
// from the broker's "error" and "error_message" fields.
type BrokerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("ares returned status %d: %s", e.StatusCode, e.Code)
}

// HTTPClient is the Client implementation over HTTP.
type HTTPClient struct {
	cfg         Config
	client      networking.HTTPClient
	newTraceID  func() string
	recorder    UpstreamRecorder
	traceHeader string
}

// Option customises an HTTPClient.
type Option func(*HTTPClient)

// WithTraceIDGenerator replaces the random UUID trace ids.
func WithTraceIDGenerator(gen func() string) Option {
	return func(c *HTTPClient) {
		c.newTraceID = gen
	}
}

// WithRecorder reports call durations to r.
func WithRecorder(r UpstreamRecorder) Option {
	return func(c *HTTPClient) {
		c.recorder = r
	}
}

// NewClient creates a broker client.
func NewClient(cfg Config, client networking.HTTPClient, opts ...Option) (*HTTPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &HTTPClient{
		cfg:         cfg,
		client:      client,
		newTraceID:  func() string { return uuid.New().String() },
		traceHeader: cfg.TraceIDHeader,
	}
	if c.traceHeader == "" {
		c.traceHeader = DefaultTraceIDHeader
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type authorizeResponse struct {
	RedirectURL string `json:"redirect_url"`
}

// Authorize implements Client.
func (c *HTTPClient) Authorize(ctx context.Context, callbackURL string) (string, error) {
	var redirectURL string
	err := c.do(ctx, opAuthorize, func(ctx context.Context, opts []networking.FetchOption) error {
		opts = append(opts, networking.WithQueryParam("callback_url", callbackURL))
		res, err := networking.FetchJSON[authorizeResponse](ctx, c.client, c.cfg.AuthorizeURL, opts...)
		if err != nil {
			return err
		}
		if res.Data.RedirectURL == "" {
			return errors.New("ares authorize response has no redirect_url")
		}
		redirectURL = res.Data.RedirectURL
		return nil
	})
	return redirectURL, err
}

// ExchangeCode implements Client.
func (c *HTTPClient) ExchangeCode(ctx context.Context, code, callbackURL string) (*oauth.TokenResponse, error) {
	var tokens *oauth.TokenResponse
	err := c.do(ctx, opExchange, func(ctx context.Context, opts []networking.FetchOption) error {
		opts = append(opts,
			networking.WithQueryParam("code", code),
			networking.WithQueryParam("callback_url", callbackURL),
			networking.WithHeader("Content-Type", networking.ContentTypeJSON),
		)
		var err error
		tokens, err = fetchTokens(ctx, c.client, c.cfg.TokenURL, opts)
		return err
	})
	return tokens, err
}

// Refresh implements Client.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*oauth.TokenResponse, error) {
	var tokens *oauth.TokenResponse
	err := c.do(ctx, opRefresh, func(ctx context.Context, opts []networking.FetchOption) error {
		opts = append(opts, networking.WithJSONBody(map[string]string{"refresh_token": refreshToken}))
		var err error
		tokens, err = fetchTokens(ctx, c.client, c.cfg.RefreshURL, opts)
		return err
	})
	return tokens, err
}

func fetchTokens(ctx context.Context, client networking.HTTPClient, url string, opts []networking.FetchOption) (*oauth.TokenResponse, error) {
	res, err := networking.FetchJSON[oauth.TokenResponse](ctx, client, url, opts...)
	if err != nil {
		return nil, err
	}
	if res.Data.AccessToken == "" {
		return nil, errors.New("ares token response has no access_token")
	}
	tokens := res.Data
	tokens.Normalize()
	return &tokens, nil
}

// do runs one broker call with a timeout, a fresh trace id and the broker
// error decoding shared by all operations.
func (c *HTTPClient) do(
	ctx context.Context,
	op string,
	call func(ctx context.Context, opts []networking.FetchOption) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	traceID := c.newTraceID()
	opts := []networking.FetchOption{
		networking.WithMethod(http.MethodPost),
		networking.WithHeader(c.traceHeader, traceID),
		networking.WithMaxResponseSize(maxResponseSize),
		networking.WithErrorHandler(brokerError(op)),
	}

	start := time.Now()
	err := call(ctx, opts)
	if c.recorder != nil {
		c.recorder.RecordUpstream(ctx, "ares", op, time.Since(start), err)
	}
	if err != nil {
		logger.Warnw("ares call failed", "operation", op, "trace_id", traceID, "error", err)
		var be *BrokerError
		if errors.As(err, &be) {
			return err
		}
		return fmt.Errorf("ares %s: %w", op, err)
	}
	logger.Debugw("ares call succeeded", "operation", op, "trace_id", traceID)
	return nil
}

func brokerError(op string) func(*http.Response, []byte) error {
	defaultCode := "token_error"
	if op == opAuthorize {
		defaultCode = "authorization_error"
	}
	return func(resp *http.Response, body []byte) error {
		var payload struct {
			Error        string `json:"error"`
			ErrorMessage string `json:"error_message"`
		}
		_ = json.Unmarshal(body, &payload)

		be := &BrokerError{
			StatusCode: resp.StatusCode,
			Code:       payload.Error,
			Message:    payload.ErrorMessage,
		}
		if be.Code == "" {
			be.Code = defaultCode
		}
		if be.Message == "" {
			be.Message = http.StatusText(resp.StatusCode)
		}
		return be
	}
}
