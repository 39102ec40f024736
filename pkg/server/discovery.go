// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tecrolabs/otus-mcp/pkg/auth"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/oauth"
	"github.com/tecrolabs/otus-mcp/pkg/versions"
)

const resourceMetadataPath = oauth.WellKnownOAuthResourcePath

// wellKnownRoutes registers the RFC 9728 and RFC 8414 documents. The
// protected resource document is also served under path-suffixed variants
// such as /.well-known/oauth-protected-resource/mcp.
func (s *Server) wellKnownRoutes(r chi.Router) {
	prm := auth.NewProtectedResourceHandler(s.protectedResourceMetadata())
	r.Handle(oauth.WellKnownOAuthResourcePath, prm)
	r.Handle(oauth.WellKnownOAuthResourcePath+"/*", prm)
	r.Handle(oauth.WellKnownOAuthServerPath, auth.NewAuthorizationServerHandler(s.authorizationServerMetadata()))
}

func (s *Server) protectedResourceMetadata() oauth.ProtectedResourceMetadata {
	return oauth.ProtectedResourceMetadata{
		Resource:               s.cfg.URL,
		AuthorizationServers:   []string{s.cfg.URL},
		ScopesSupported:        s.cfg.Scopes,
		BearerMethodsSupported: []string{"header"},
	}
}

// authorizationServerMetadata advertises this server's proxy endpoints so
// that clients never talk to the broker directly.
func (s *Server) authorizationServerMetadata() oauth.AuthorizationServerMetadata {
	return oauth.AuthorizationServerMetadata{
		Issuer:                 s.cfg.URL,
		AuthorizationEndpoint:  s.cfg.URL + PathAuthorize,
		TokenEndpoint:          s.cfg.URL + PathToken,
		RegistrationEndpoint:   s.cfg.URL + PathRegister,
		ScopesSupported:        s.cfg.Scopes,
		ResponseTypesSupported: []string{oauth.ResponseTypeCode},
		ResponseModesSupported: []string{"query"},
		GrantTypesSupported:    []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{
			oauth.TokenEndpointAuthMethodNone,
			oauth.TokenEndpointAuthMethodClientSecretPost,
			oauth.TokenEndpointAuthMethodClientSecretBasic,
		},
		CodeChallengeMethodsSupported: []string{oauth.PKCEChallengeMethodS256},
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "otus-mcp",
		"version":     versions.GetVersionInfo().Version,
		"description": "MCP server acting as an OAuth 2.1 protected resource for the Otus API",
		"endpoints": map[string]string{
			"health":                        PathHealth,
			"protected_resource_metadata":   oauth.WellKnownOAuthResourcePath,
			"authorization_server_metadata": oauth.WellKnownOAuthServerPath,
			"client_registration":           PathRegister,
			"oauth_authorize":               PathAuthorize,
			"oauth_token":                   PathToken,
			"mcp":                           PathMCP,
			"auth_start":                    PathAuthStart,
			"auth_callback":                 PathAuthCallback,
			"auth_refresh":                  PathAuthRefresh,
		},
	})
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "otus-mcp",
		"version": versions.GetVersionInfo().Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}
