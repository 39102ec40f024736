// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

// Well-known discovery paths.
const (
	// WellKnownOAuthResourcePath is the RFC 9728 protected resource metadata path.
	WellKnownOAuthResourcePath = "/.well-known/oauth-protected-resource"

	// WellKnownOAuthServerPath is the RFC 8414 authorization server metadata path.
	WellKnownOAuthServerPath = "/.well-known/oauth-authorization-server"
)

// Grant types.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
)

// Response types.
const (
	ResponseTypeCode = "code"
)

// Token endpoint authentication methods (RFC 7591 §2).
const (
	TokenEndpointAuthMethodNone              = "none"
	TokenEndpointAuthMethodClientSecretPost  = "client_secret_post"
	TokenEndpointAuthMethodClientSecretBasic = "client_secret_basic"
)

// TokenTypeBearer is the only token type issued through otus-mcp.
const TokenTypeBearer = "Bearer"

// DefaultExpiresIn is reported when the broker omits expires_in.
const DefaultExpiresIn = 3600
