// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	// DefaultMaxResponseSize is the default maximum response body size (1MB).
	DefaultMaxResponseSize = 1024 * 1024

	// DefaultErrorPreviewSize is the maximum size of error body preview in HTTPError.
	DefaultErrorPreviewSize = 1024

	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

// FetchResult contains the result of a successful JSON fetch operation.
type FetchResult[T any] struct {
	// Data is the parsed JSON response body.
	Data T

	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Headers are the response headers.
	Headers http.Header
}

// FetchOption configures a fetch request.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	method                    string
	headers                   http.Header
	query                     url.Values
	body                      io.Reader
	maxResponseSize           int64
	skipContentTypeValidation bool
	errorHandler              func(*http.Response, []byte) error
}

func newFetchOptions() *fetchOptions {
	return &fetchOptions{
		method:          http.MethodGet,
		headers:         make(http.Header),
		query:           make(url.Values),
		maxResponseSize: DefaultMaxResponseSize,
	}
}

// WithMethod sets the HTTP method for the request.
func WithMethod(method string) FetchOption {
	return func(opts *fetchOptions) {
		opts.method = method
	}
}

// WithHeader sets a single header on the request.
func WithHeader(key, value string) FetchOption {
	return func(opts *fetchOptions) {
		opts.headers.Set(key, value)
	}
}

// WithQueryParam adds a query parameter to the request URL.
func WithQueryParam(key, value string) FetchOption {
	return func(opts *fetchOptions) {
		opts.query.Add(key, value)
	}
}

// WithBody sets the request body.
func WithBody(body io.Reader) FetchOption {
	return func(opts *fetchOptions) {
		opts.body = body
	}
}

// WithJSONBody encodes v as the request body and sets the Content-Type.
// Encoding errors surface when the request is built.
func WithJSONBody(v any) FetchOption {
	return func(opts *fetchOptions) {
		data, err := json.Marshal(v)
		if err != nil {
			opts.body = errReader{err: err}
			return
		}
		opts.body = bytes.NewReader(data)
		opts.headers.Set("Content-Type", ContentTypeJSON)
	}
}

// WithMaxResponseSize sets the maximum response body size.
func WithMaxResponseSize(size int64) FetchOption {
	return func(opts *fetchOptions) {
		opts.maxResponseSize = size
	}
}

// WithoutContentTypeValidation disables the application/json Content-Type check.
func WithoutContentTypeValidation() FetchOption {
	return func(opts *fetchOptions) {
		opts.skipContentTypeValidation = true
	}
}

// WithErrorHandler sets a custom error handler for non-200 responses.
// If the handler returns nil, the default HTTPError is returned.
func WithErrorHandler(handler func(*http.Response, []byte) error) FetchOption {
	return func(opts *fetchOptions) {
		opts.errorHandler = handler
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// FetchJSON performs an HTTP request and parses the JSON response body.
// For non-200 responses it returns an *HTTPError or the result of the custom
// error handler.
func FetchJSON[T any](
	ctx context.Context,
	client HTTPClient,
	requestURL string,
	opts ...FetchOption,
) (*FetchResult[T], error) {
	options := newFetchOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.headers.Get("Accept") == "" {
		options.headers.Set("Accept", ContentTypeJSON)
	}

	target, err := url.Parse(requestURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request URL: %w", err)
	}
	if len(options.query) > 0 {
		q := target.Query()
		for key, values := range options.query {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		target.RawQuery = q.Encode()
	}

	if r, ok := options.body.(errReader); ok {
		return nil, fmt.Errorf("failed to encode request body: %w", r.err)
	}

	req, err := http.NewRequestWithContext(ctx, options.method, target.String(), options.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = options.headers

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, options.maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if options.errorHandler != nil {
			if customErr := options.errorHandler(resp, body); customErr != nil {
				return nil, customErr
			}
		}

		bodyPreview := string(body)
		if len(bodyPreview) > DefaultErrorPreviewSize {
			bodyPreview = bodyPreview[:DefaultErrorPreviewSize]
		}
		target.RawQuery = ""
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       bodyPreview,
			URL:        target.String(),
		}
	}

	if !options.skipContentTypeValidation {
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(strings.ToLower(contentType), ContentTypeJSON) {
			return nil, fmt.Errorf("unexpected content type: %s", contentType)
		}
	}

	var data T
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return &FetchResult[T]{
		Data:       data,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
	}, nil
}
