// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package otus is the client for the downstream Otus API. The caller's
// bearer token is forwarded unmodified.
package otus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/networking"
)

const (
	// DefaultTimeout bounds a single Otus request.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxAttempts includes the first attempt.
	DefaultMaxAttempts = 3

	// DefaultTeamsPath is appended to the base URL.
	DefaultTeamsPath = "/teams"

	maxResponseSize = 4 << 20
	retryInterval   = 200 * time.Millisecond
)

// APIError is a failed Otus call. StatusCode is the Otus status, or 502 when
// Otus could not be reached.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("otus API error %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether Otus rejected the token.
func IsUnauthorized(err error) bool {
	return statusOf(err) == http.StatusUnauthorized
}

// IsForbidden reports whether the token lacks permission.
func IsForbidden(err error) bool {
	return statusOf(err) == http.StatusForbidden
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// UpstreamRecorder is notified of the duration of every Otus call.
type UpstreamRecorder interface {
	RecordUpstream(ctx context.Context, upstream, operation string, duration time.Duration, err error)
}

// Config holds the Otus endpoints.
type Config struct {
	BaseURL     string        `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	TeamsPath   string        `json:"teams_path" yaml:"teams_path" mapstructure:"teams_path"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts uint          `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
}

// TeamsURL returns the full teams endpoint.
func (c Config) TeamsURL() string {
	path := c.TeamsPath
	if path == "" {
		path = DefaultTeamsPath
	}
	return strings.TrimRight(c.BaseURL, "/") + path
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !networking.IsURL(c.BaseURL) {
		return fmt.Errorf("otus base url %q is not an absolute URL", c.BaseURL)
	}
	if c.TeamsPath != "" && !strings.HasPrefix(c.TeamsPath, "/") {
		return fmt.Errorf("otus teams path %q must start with /", c.TeamsPath)
	}
	return nil
}

// Client calls the Otus API.
type Client struct {
	client      networking.HTTPClient
	teamsURL    string
	timeout     time.Duration
	maxAttempts uint
	interval    time.Duration
	recorder    UpstreamRecorder
}

// Option customises a Client.
type Option func(*Client)

// WithRecorder reports call durations to r.
func WithRecorder(r UpstreamRecorder) Option {
	return func(c *Client) {
		c.recorder = r
	}
}

// WithRetryInterval sets the initial backoff interval.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		c.interval = d
	}
}

// NewClient creates an Otus client. client must not follow redirects, so
// the bearer token never leaves for another host.
func NewClient(cfg Config, client networking.HTTPClient, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("http client is required")
	}

	c := &Client{
		client:      client,
		teamsURL:    cfg.TeamsURL(),
		timeout:     cfg.Timeout,
		maxAttempts: cfg.MaxAttempts,
		interval:    retryInterval,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxAttempts == 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetTeams returns the teams visible to the token's owner, as the exact JSON
// text Otus answered with.
func (c *Client) GetTeams(ctx context.Context, bearer string) (string, error) {
	if bearer == "" {
		return "", &APIError{StatusCode: http.StatusUnauthorized, Message: "no bearer token"}
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.interval
	expBackoff.MaxInterval = 10 * c.interval
	expBackoff.Reset()

	operation := func() (string, error) {
		return c.getOnce(ctx, bearer)
	}

	start := time.Now()
	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			logger.Debugf("Retrying Otus teams request after %v: %v", d, err)
		}),
	)
	if c.recorder != nil {
		c.recorder.RecordUpstream(ctx, "otus", "get_teams", time.Since(start), err)
	}
	if err != nil {
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			// Retry gave up on the context.
			return "", &APIError{StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("failed to reach Otus: %v", err)}
		}
		return "", apiErr
	}
	return body, nil
}

func (c *Client) getOnce(ctx context.Context, bearer string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.teamsURL, nil)
	if err != nil {
		return "", backoff.Permanent(&APIError{StatusCode: http.StatusInternalServerError, Message: err.Error()})
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", networking.ContentTypeJSON)

	resp, err := c.client.Do(req)
	if err != nil {
		apiErr := &APIError{StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("failed to connect to Otus: %v", err)}
		if errors.Is(err, networking.ErrRedirectNotAllowed) {
			apiErr.Message = "Otus answered with a redirect"
			return "", backoff.Permanent(apiErr)
		}
		logger.Warnw("otus request failed", "error", err)
		return "", apiErr
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &APIError{StatusCode: http.StatusBadGateway, Message: fmt.Sprintf("failed to read Otus response: %v", err)}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		logger.Warnf("Otus returned 401, token may be invalid or expired")
		return "", backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Message: "Unauthorized - invalid or expired token"})
	case resp.StatusCode == http.StatusForbidden:
		logger.Warnf("Otus returned 403, insufficient permissions")
		return "", backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Message: "Forbidden - insufficient permissions"})
	case resp.StatusCode >= 500:
		return "", &APIError{StatusCode: resp.StatusCode, Message: messageFrom(resp, data)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", backoff.Permanent(&APIError{StatusCode: resp.StatusCode, Message: messageFrom(resp, data)})
	}

	return string(data), nil
}

func messageFrom(resp *http.Response, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(resp.StatusCode)
	}
	if len(msg) > networking.DefaultErrorPreviewSize {
		msg = msg[:networking.DefaultErrorPreviewSize]
	}
	return msg
}
