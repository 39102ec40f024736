// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"golang.org/x/time/rate"

	oauthErrors "github.com/tecrolabs/otus-mcp/pkg/errors"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
)

// rateLimit rejects requests beyond the limiter's budget with 429.
func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warnw("rate limit exceeded", "path", r.URL.Path)
				w.Header().Set("Retry-After", "1")
				oauthErrors.WriteJSON(w, oauthErrors.NewError(
					oauthErrors.ErrTemporarilyUnavailable, "too many requests", nil,
				).WithStatus(http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
