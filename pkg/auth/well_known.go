// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"encoding/json"
	"net/http"

	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/oauth"
)

// NewProtectedResourceHandler serves the RFC 9728 protected resource
// metadata. An empty metadata Resource answers 404.
func NewProtectedResourceHandler(metadata oauth.ProtectedResourceMetadata) http.Handler {
	return discoveryHandler(metadata.Resource != "", metadata)
}

// NewAuthorizationServerHandler serves the RFC 8414 authorization server metadata.
func NewAuthorizationServerHandler(metadata oauth.AuthorizationServerMetadata) http.Handler {
	return discoveryHandler(metadata.Issuer != "", metadata)
}

func discoveryHandler(configured bool, document any) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Discovery documents are public.
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		// mcp-inspector sends these on its preflight.
		w.Header().Set("Access-Control-Allow-Headers", "mcp-protocol-version, Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !configured {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(document); err != nil {
			logger.Errorf("Failed to encode discovery document: %v", err)
		}
	})
}
