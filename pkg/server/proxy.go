// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	oauthErrors "github.com/tecrolabs/otus-mcp/pkg/errors"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/oauth"
	"github.com/tecrolabs/otus-mcp/pkg/registration"
)

// handleAuthorize handles GET /oauth/authorize. It validates the client's
// request, records it as a pending transaction and sends the user agent to
// the login page the broker hands out.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if q.Get("response_type") != oauth.ResponseTypeCode {
		oauthErrors.WriteJSON(w, oauthErrors.NewError(oauthErrors.ErrUnsupportedResponseType,
			"Only 'code' response_type is supported", nil))
		return
	}

	pending := PendingAuthorization{
		ClientID:      q.Get("client_id"),
		RedirectURI:   q.Get("redirect_uri"),
		ClientState:   q.Get("state"),
		CodeChallenge: q.Get("code_challenge"),
		Scope:         q.Get("scope"),
	}

	if pending.ClientID == "" || pending.RedirectURI == "" || pending.ClientState == "" {
		oauthErrors.WriteJSON(w, oauthErrors.NewInvalidRequestError("Missing client_id, redirect_uri or state", nil))
		return
	}

	client, err := s.deps.Registry.Get(ctx, pending.ClientID)
	if err != nil {
		oauthErrors.WriteJSON(w, clientLookupFailure(err).WithStatus(http.StatusBadRequest))
		return
	}
	if !client.HasRedirectURI(pending.RedirectURI) {
		oauthErrors.WriteJSON(w, oauthErrors.NewInvalidRequestError("redirect_uri is not registered for this client", nil))
		return
	}

	// From here on the redirect URI is trusted and errors go back to the client.
	if pending.CodeChallenge == "" || q.Get("code_challenge_method") != oauth.PKCEChallengeMethodS256 {
		redirectError(w, r, pending, oauthErrors.ErrInvalidRequest, "PKCE with code_challenge_method=S256 is required")
		return
	}

	state, err := s.deps.Authorizations.Create(ctx, pending)
	if err != nil {
		logger.Errorw("failed to store pending authorization", "error", err)
		redirectError(w, r, pending, oauthErrors.ErrServer, "failed to store authorization request")
		return
	}

	loginURL, err := s.deps.Broker.Authorize(ctx, s.cfg.URL+PathProxyCallback)
	if err != nil {
		oauthErrors.WriteJSON(w, brokerFailure(err))
		return
	}
	loginURL, err = withState(loginURL, state)
	if err != nil {
		oauthErrors.WriteJSON(w, oauthErrors.NewUpstreamError("invalid redirect_url from authorization server", err))
		return
	}

	logger.Debugw("redirecting to authorization broker",
		"client_id", pending.ClientID,
		"state", logger.Redact(state),
	)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// handleProxyCallback handles GET /oauth/callback. The transaction is only
// consumed once the broker accepted the code; a failed exchange leaves it
// pending so the callback can be retried.
func (s *Server) handleProxyCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	code, state := q.Get("code"), q.Get("state")

	if errCode := q.Get("error"); errCode != "" {
		s.proxyCallbackError(w, r, state, errCode, q.Get("error_description"))
		return
	}
	if code == "" || state == "" {
		oauthErrors.WriteJSON(w, oauthErrors.NewInvalidRequestError("Missing code or state parameter", nil))
		return
	}

	if _, err := s.deps.Authorizations.Peek(ctx, state); err != nil {
		logger.Debugw("proxy callback with unusable state", "state", logger.Redact(state), "error", err)
		oauthErrors.WriteJSON(w, stateFailure(err, ""))
		return
	}

	tokens, err := s.deps.Broker.ExchangeCode(ctx, code, s.cfg.URL+PathProxyCallback)
	if err != nil {
		logger.Warnw("code exchange failed, transaction left pending", "state", logger.Redact(state), "error", err)
		oauthErrors.WriteJSON(w, brokerFailure(err))
		return
	}

	pending, err := s.deps.Authorizations.Consume(ctx, state)
	if err != nil {
		// A concurrent callback won the race; its tokens are the ones that count.
		oauthErrors.WriteJSON(w, stateFailure(err, ""))
		return
	}

	issued, err := s.deps.Codes.Create(ctx, IssuedCode{
		ClientID:      pending.ClientID,
		RedirectURI:   pending.RedirectURI,
		CodeChallenge: pending.CodeChallenge,
		Scope:         pending.Scope,
		Tokens:        *tokens,
	})
	if err != nil {
		logger.Errorw("failed to store authorization code", "error", err)
		redirectError(w, r, pending, oauthErrors.ErrServer, "failed to issue authorization code")
		return
	}

	logger.Infow("authorization completed", "client_id", pending.ClientID, "state", logger.Redact(state))
	redirectWithParams(w, r, pending.RedirectURI, url.Values{
		"code":  {issued},
		"state": {pending.ClientState},
	})
}

// proxyCallbackError forwards a provider error to the client that started
// the flow. The transaction stays pending until a successful exchange or
// its TTL ends it.
func (s *Server) proxyCallbackError(w http.ResponseWriter, r *http.Request, state, errCode, description string) {
	if state == "" {
		writeJSON(w, http.StatusBadRequest, oauthErrors.Body{Error: errCode, ErrorDescription: description})
		return
	}
	pending, err := s.deps.Authorizations.Peek(r.Context(), state)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, oauthErrors.Body{Error: errCode, ErrorDescription: description})
		return
	}
	redirectError(w, r, pending, errCode, description)
}

func redirectError(w http.ResponseWriter, r *http.Request, pending PendingAuthorization, errCode, description string) {
	params := url.Values{"error": {errCode}, "state": {pending.ClientState}}
	if description != "" {
		params.Set("error_description", description)
	}
	redirectWithParams(w, r, pending.RedirectURI, params)
}

func clientLookupFailure(err error) *oauthErrors.Error {
	if errors.Is(err, registration.ErrClientNotFound) {
		return oauthErrors.NewInvalidClientError("unknown client_id", err)
	}
	return oauthErrors.NewServerError("client lookup failed", err)
}

// tokenRequest is the RFC 6749 §4.1.3 / §6 request, read from a form or a
// JSON body.
type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CodeVerifier string `json:"code_verifier"`
	RefreshToken string `json:"refresh_token"`
}

func parseTokenRequest(w http.ResponseWriter, r *http.Request) (tokenRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)

	var req tokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return req, oauthErrors.NewInvalidRequestError("Invalid request body", err)
		}
		req = tokenRequest{
			GrantType:    r.PostForm.Get("grant_type"),
			Code:         r.PostForm.Get("code"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientSecret: r.PostForm.Get("client_secret"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			RefreshToken: r.PostForm.Get("refresh_token"),
		}
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, oauthErrors.NewInvalidRequestError("Invalid request body", err)
	}

	// client_secret_basic; credentials are form-encoded (RFC 6749 §2.3.1).
	if id, secret, ok := r.BasicAuth(); ok {
		if decoded, err := url.QueryUnescape(id); err == nil {
			id = decoded
		}
		if decoded, err := url.QueryUnescape(secret); err == nil {
			secret = decoded
		}
		if req.ClientID != "" && req.ClientID != id {
			return req, oauthErrors.NewInvalidRequestError("client_id does not match the authenticated client", nil)
		}
		req.ClientID, req.ClientSecret = id, secret
	}
	return req, nil
}

// handleToken handles POST /oauth/token.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	req, err := parseTokenRequest(w, r)
	if err != nil {
		oauthErrors.WriteJSON(w, err)
		return
	}

	var tokens *oauth.TokenResponse
	switch req.GrantType {
	case oauth.GrantTypeAuthorizationCode:
		tokens, err = s.redeemCode(r, req)
	case oauth.GrantTypeRefreshToken:
		tokens, err = s.refresh(r, req)
	default:
		err = oauthErrors.NewError(oauthErrors.ErrUnsupportedGrantType,
			"Grant type '"+req.GrantType+"' not supported", nil)
	}
	if err != nil {
		logger.Debugw("token request rejected", "grant_type", req.GrantType, "error", err)
		oauthErrors.WriteJSON(w, err)
		return
	}

	tokens.Normalize()
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, tokens)
}

// authenticateClient resolves the client and checks its secret and grant.
func (s *Server) authenticateClient(r *http.Request, req tokenRequest) error {
	client, err := s.deps.Registry.Get(r.Context(), req.ClientID)
	if err != nil {
		return clientLookupFailure(err)
	}
	if !client.Authenticate(req.ClientSecret, s.now()) {
		return oauthErrors.NewInvalidClientError("client authentication failed", nil)
	}
	if !client.AllowsGrant(req.GrantType) {
		return oauthErrors.NewError("unauthorized_client",
			"client is not registered for grant type "+req.GrantType, nil).WithStatus(http.StatusBadRequest)
	}
	return nil
}

// redeemCode validates the code against the client, redirect URI and PKCE
// verifier before consuming it, so a rejected attempt does not burn it.
func (s *Server) redeemCode(r *http.Request, req tokenRequest) (*oauth.TokenResponse, error) {
	if req.Code == "" || req.CodeVerifier == "" || req.ClientID == "" {
		return nil, oauthErrors.NewInvalidRequestError("code, code_verifier and client_id are required", nil)
	}
	if err := s.authenticateClient(r, req); err != nil {
		return nil, err
	}

	ctx := r.Context()
	issued, err := s.deps.Codes.Peek(ctx, req.Code)
	if err != nil {
		return nil, codeFailure(err)
	}
	if issued.ClientID != req.ClientID {
		return nil, oauthErrors.NewInvalidGrantError("authorization code was issued to another client", nil)
	}
	if req.RedirectURI != issued.RedirectURI {
		return nil, oauthErrors.NewInvalidGrantError("redirect_uri does not match the authorization request", nil)
	}
	if !oauth.VerifyPKCE(req.CodeVerifier, issued.CodeChallenge) {
		return nil, oauthErrors.NewInvalidGrantError("PKCE verification failed", nil)
	}

	issued, err = s.deps.Codes.Consume(ctx, req.Code)
	if err != nil {
		return nil, codeFailure(err)
	}
	logger.Infow("authorization code redeemed", "client_id", req.ClientID)
	tokens := issued.Tokens
	return &tokens, nil
}

// refresh forwards a refresh token to the broker. Registered clients are
// authenticated; a request without client_id is passed through.
func (s *Server) refresh(r *http.Request, req tokenRequest) (*oauth.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oauthErrors.NewInvalidRequestError("refresh_token is required", nil)
	}
	if req.ClientID != "" {
		if err := s.authenticateClient(r, req); err != nil {
			return nil, err
		}
	}
	tokens, err := s.deps.Broker.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		return nil, brokerFailure(err)
	}
	return tokens, nil
}
