// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package registration provides OAuth 2.0 Dynamic Client Registration (DCR)
// per RFC 7591: request validation, the client registry consulted by the
// authorization endpoint, and the HTTP handler serving /register.
package registration

import (
	"net/url"
	"slices"

	oauthErrors "github.com/tecrolabs/otus-mcp/pkg/errors"
	"github.com/tecrolabs/otus-mcp/pkg/networking"
	"github.com/tecrolabs/otus-mcp/pkg/oauth"
)

// Validation limits to prevent DoS attacks via excessively large requests.
const (
	// MaxRedirectURICount is the maximum number of redirect URIs allowed per client.
	MaxRedirectURICount = 10

	// MaxClientNameLength is the maximum allowed length for a client name.
	MaxClientNameLength = 256
)

// Request represents an OAuth 2.0 Dynamic Client Registration request
// per RFC 7591 Section 2.
type Request struct {
	// RedirectURIs is an array of redirection URIs for the client.
	RedirectURIs []string `json:"redirect_uris"`

	// ClientName is a human-readable name for the client.
	ClientName string `json:"client_name,omitempty"`

	// ClientURI is the client's home page.
	ClientURI string `json:"client_uri,omitempty"`

	// TokenEndpointAuthMethod is the requested authentication method for the token endpoint.
	// Defaults to "none" (public client).
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// GrantTypes defaults to ["authorization_code", "refresh_token"].
	GrantTypes []string `json:"grant_types,omitempty"`

	// ResponseTypes defaults to ["code"].
	ResponseTypes []string `json:"response_types,omitempty"`

	// Scope is a space separated list of scopes the client may request.
	Scope string `json:"scope,omitempty"`
}

var defaultGrantTypes = []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken}

var allowedGrantTypes = map[string]bool{
	oauth.GrantTypeAuthorizationCode: true,
	oauth.GrantTypeRefreshToken:      true,
}

var defaultResponseTypes = []string{oauth.ResponseTypeCode}

var allowedAuthMethods = map[string]bool{
	oauth.TokenEndpointAuthMethodNone:              true,
	oauth.TokenEndpointAuthMethodClientSecretPost:  true,
	oauth.TokenEndpointAuthMethodClientSecretBasic: true,
}

// ValidateRequest validates a DCR request according to RFC 7591 and returns
// a copy with defaults applied. Failures are *errors.Error values of type
// invalid_redirect_uri or invalid_client_metadata.
func ValidateRequest(req *Request) (*Request, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, redirectErr("redirect_uris is required")
	}
	if len(req.RedirectURIs) > MaxRedirectURICount {
		return nil, redirectErr("too many redirect_uris (maximum 10)")
	}
	for _, uri := range req.RedirectURIs {
		if err := ValidateRedirectURI(uri); err != nil {
			return nil, err
		}
	}

	if len(req.ClientName) > MaxClientNameLength {
		return nil, metadataErr("client_name too long (maximum 256 characters)")
	}
	if req.ClientURI != "" && !networking.IsURL(req.ClientURI) {
		return nil, metadataErr("client_uri must be an absolute http(s) URL")
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = oauth.TokenEndpointAuthMethodNone
	}
	if !allowedAuthMethods[authMethod] {
		return nil, metadataErr("unsupported token_endpoint_auth_method: " + authMethod)
	}

	grantTypes, err := validateGrantTypes(req.GrantTypes)
	if err != nil {
		return nil, err
	}
	responseTypes, err := validateResponseTypes(req.ResponseTypes)
	if err != nil {
		return nil, err
	}

	return &Request{
		RedirectURIs:            slices.Clone(req.RedirectURIs),
		ClientName:              req.ClientName,
		ClientURI:               req.ClientURI,
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		Scope:                   req.Scope,
	}, nil
}

func validateGrantTypes(grantTypes []string) ([]string, error) {
	if len(grantTypes) == 0 {
		return slices.Clone(defaultGrantTypes), nil
	}
	if !slices.Contains(grantTypes, oauth.GrantTypeAuthorizationCode) {
		return nil, metadataErr("grant_types must include 'authorization_code'")
	}
	for _, gt := range grantTypes {
		if !allowedGrantTypes[gt] {
			return nil, metadataErr("unsupported grant_type: " + gt)
		}
	}
	return slices.Clone(grantTypes), nil
}

func validateResponseTypes(responseTypes []string) ([]string, error) {
	if len(responseTypes) == 0 {
		return slices.Clone(defaultResponseTypes), nil
	}
	for _, rt := range responseTypes {
		if rt != oauth.ResponseTypeCode {
			return nil, metadataErr("unsupported response_type: " + rt)
		}
	}
	return slices.Clone(responseTypes), nil
}

// ValidateRedirectURI accepts absolute https URIs for any host and http URIs
// only for loopback hosts. Fragments are never allowed (RFC 6749 §3.1.2).
func ValidateRedirectURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return redirectErr("redirect_uri must be an absolute URI: " + uri)
	}
	if u.Fragment != "" {
		return redirectErr("redirect_uri must not contain a fragment: " + uri)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if networking.IsLocalhost(u.Host) {
			return nil
		}
		return redirectErr("http redirect_uri is only allowed for loopback hosts: " + uri)
	default:
		return redirectErr("unsupported redirect_uri scheme: " + u.Scheme)
	}
}

func redirectErr(msg string) error {
	return oauthErrors.NewError(oauthErrors.ErrInvalidRedirectURI, msg, nil)
}

func metadataErr(msg string) error {
	return oauthErrors.NewError(oauthErrors.ErrInvalidClientMetadata, msg, nil)
}
