// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tecrolabs/otus-mcp/pkg/logger"
)

// Challenge builds the WWW-Authenticate header sent with every 401.
type Challenge struct {
	// ResourceMetadataURL points at the protected resource metadata document.
	ResourceMetadataURL string
	// Scopes are advertised as required.
	Scopes []string
}

// EscapeQuotes escapes quotes for use in a quoted-string header parameter.
func EscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// Header renders the challenge. With invalidToken set it adds
// error="invalid_token" as RFC 6750 §3.1 describes.
func (c Challenge) Header(invalidToken bool) string {
	var parts []string
	if c.ResourceMetadataURL != "" {
		parts = append(parts, fmt.Sprintf(`resource_metadata="%s"`, EscapeQuotes(c.ResourceMetadataURL)))
	}
	if len(c.Scopes) > 0 {
		parts = append(parts, fmt.Sprintf(`scope="%s"`, EscapeQuotes(strings.Join(c.Scopes, " "))))
	}
	if invalidToken {
		parts = append(parts, `error="invalid_token"`)
	}
	if len(parts) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(parts, ", ")
}

const (
	errorUnauthorized = "unauthorized"
	descMissingToken  = "No valid bearer token provided"
	descInvalidToken  = "Invalid or expired token"
)

// ExtractBearerToken returns the token from an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware rejects requests without a valid bearer token and stores the
// Principal in the request context for the rest.
//
// The body is the same for every verification failure; the reason is only logged.
func Middleware(verifier TokenVerifier, challenge Challenge) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := ExtractBearerToken(r)
			if !ok {
				writeUnauthorized(w, challenge.Header(false), descMissingToken)
				return
			}

			principal, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger.Debugw("rejected bearer token",
					"reason", FailureReason(err),
					"path", r.URL.Path,
				)
				writeUnauthorized(w, challenge.Header(true), descInvalidToken)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, challenge, description string) {
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusUnauthorized)
	body := map[string]string{
		"error":             errorUnauthorized,
		"error_description": description,
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("failed to encode unauthorized response: %v", err)
	}
}
