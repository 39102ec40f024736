// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the OAuth-flavoured error type shared by the HTTP
// handlers, along with the mapping from error type to HTTP status and the
// JSON body clients receive.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error types. The values double as the RFC 6749 "error" field.
const (
	// ErrInvalidRequest is returned when a request is missing or has malformed parameters
	ErrInvalidRequest = "invalid_request"

	// ErrInvalidState is returned when a state token is unknown, consumed or expired
	ErrInvalidState = "invalid_state"

	// ErrInvalidGrant is returned when an authorization code or refresh token is rejected
	ErrInvalidGrant = "invalid_grant"

	// ErrInvalidClient is returned when client authentication or lookup fails
	ErrInvalidClient = "invalid_client"

	// ErrUnsupportedGrantType is returned for grant types other than authorization_code and refresh_token
	ErrUnsupportedGrantType = "unsupported_grant_type"

	// ErrUnsupportedResponseType is returned for response types other than code
	ErrUnsupportedResponseType = "unsupported_response_type"

	// ErrInvalidClientMetadata is returned when a registration request is invalid
	ErrInvalidClientMetadata = "invalid_client_metadata"

	// ErrInvalidRedirectURI is returned when a registration request carries a bad redirect URI
	ErrInvalidRedirectURI = "invalid_redirect_uri"

	// ErrUpstream is returned when the authorization broker or downstream API fails
	ErrUpstream = "upstream_error"

	// ErrTemporarilyUnavailable is returned when a backing store cannot be reached
	ErrTemporarilyUnavailable = "temporarily_unavailable"

	// ErrServer is returned when there is an internal error
	ErrServer = "server_error"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error

	// Status overrides the status derived from Type when non-zero.
	Status int
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// WithStatus returns a copy of e that is reported with the given HTTP status.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

// NewInvalidRequestError creates a new invalid request error
func NewInvalidRequestError(message string, cause error) *Error {
	return NewError(ErrInvalidRequest, message, cause)
}

// NewInvalidStateError creates a new invalid state error
func NewInvalidStateError(message string, cause error) *Error {
	return NewError(ErrInvalidState, message, cause)
}

// NewInvalidGrantError creates a new invalid grant error
func NewInvalidGrantError(message string, cause error) *Error {
	return NewError(ErrInvalidGrant, message, cause)
}

// NewInvalidClientError creates a new invalid client error
func NewInvalidClientError(message string, cause error) *Error {
	return NewError(ErrInvalidClient, message, cause)
}

// NewUpstreamError creates a new upstream error
func NewUpstreamError(message string, cause error) *Error {
	return NewError(ErrUpstream, message, cause)
}

// NewServerError creates a new internal error
func NewServerError(message string, cause error) *Error {
	return NewError(ErrServer, message, cause)
}

// IsInvalidRequest checks if the error is an invalid request error
func IsInvalidRequest(err error) bool {
	return isType(err, ErrInvalidRequest)
}

// IsInvalidState checks if the error is an invalid state error
func IsInvalidState(err error) bool {
	return isType(err, ErrInvalidState)
}

// IsInvalidGrant checks if the error is an invalid grant error
func IsInvalidGrant(err error) bool {
	return isType(err, ErrInvalidGrant)
}

// IsUpstream checks if the error is an upstream error
func IsUpstream(err error) bool {
	return isType(err, ErrUpstream)
}

// IsServer checks if the error is an internal error
func IsServer(err error) bool {
	return isType(err, ErrServer)
}

func isType(err error, errorType string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errorType
	}
	return false
}

// HTTPStatus returns the status code a handler should answer with for err.
// Errors that are not *Error are treated as internal.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	if e.Status != 0 {
		return e.Status
	}
	switch e.Type {
	case ErrInvalidRequest, ErrInvalidState, ErrInvalidGrant, ErrUnsupportedGrantType,
		ErrUnsupportedResponseType, ErrInvalidClientMetadata, ErrInvalidRedirectURI:
		return http.StatusBadRequest
	case ErrInvalidClient:
		return http.StatusUnauthorized
	case ErrUpstream:
		return http.StatusBadGateway
	case ErrTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error document returned to OAuth clients.
type Body struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ToBody converts err into the client-facing JSON document. The Cause is
// never rendered; it can carry upstream details that must stay server side.
func ToBody(err error) Body {
	var e *Error
	if !errors.As(err, &e) {
		return Body{Error: ErrServer, ErrorDescription: "internal server error"}
	}
	return Body{Error: e.Type, ErrorDescription: e.Message}
}

// WriteJSON writes err as an OAuth error response.
func WriteJSON(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(ToBody(err))
}
