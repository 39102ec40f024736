// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is a non-200 answer returned by FetchJSON when no custom error
// handler claimed it.
type HTTPError struct {
	StatusCode int

	// Body is a preview of the response body (limited to DefaultErrorPreviewSize).
	// It is kept for server-side logging and must not be echoed to clients.
	Body string

	// URL is the requested URL without query string.
	URL string
}

// Error leaves the body out.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP request to %s failed with status %d", e.URL, e.StatusCode)
}

// Class returns the status class as "4xx" or "5xx", or "other".
func (e *HTTPError) Class() string {
	switch {
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return "4xx"
	case e.StatusCode >= 500 && e.StatusCode < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Temporary reports whether repeating the request later may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// AsHTTPError returns the *HTTPError in err's chain, if any.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}
