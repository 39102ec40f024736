// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"slices"

	oauthErrors "github.com/tecrolabs/otus-mcp/pkg/errors"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
)

// The fallback flow lets a person obtain tokens with a browser when their
// MCP client cannot run the authorization code flow itself.

// allowedCallback reports whether callbackURL may be requested on /auth/start.
func (s *Server) allowedCallback(callbackURL string) bool {
	return callbackURL == s.cfg.FallbackRedirectURI || slices.Contains(s.cfg.AllowedCallbackURLs, callbackURL)
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	callbackURL := r.URL.Query().Get("callback_url")
	if callbackURL == "" {
		callbackURL = s.cfg.FallbackRedirectURI
	}
	if !s.allowedCallback(callbackURL) {
		logger.Warnw("rejected callback_url on /auth/start", "callback_url", callbackURL)
		oauthErrors.WriteJSON(w, oauthErrors.NewInvalidRequestError("callback_url is not allowed", nil))
		return
	}

	state, err := s.deps.Logins.Create(ctx, LoginTransaction{CallbackURL: callbackURL})
	if err != nil {
		oauthErrors.WriteJSON(w, stateFailure(err, PathAuthStart))
		return
	}

	loginURL, err := s.deps.Broker.Authorize(ctx, callbackURL)
	if err != nil {
		oauthErrors.WriteJSON(w, brokerFailure(err))
		return
	}
	loginURL, err = withState(loginURL, state)
	if err != nil {
		oauthErrors.WriteJSON(w, oauthErrors.NewUpstreamError("invalid redirect_url from authorization server", err))
		return
	}

	logger.Debugw("starting fallback login", "state", logger.Redact(state))
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// handleAuthCallback exchanges the code and returns the tokens as JSON. The
// login transaction survives a failed exchange so the callback can be retried.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		writeJSON(w, http.StatusBadRequest, oauthErrors.Body{
			Error:            errCode,
			ErrorDescription: q.Get("error_description"),
		})
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		oauthErrors.WriteJSON(w, oauthErrors.NewInvalidRequestError("Missing code or state parameter", nil))
		return
	}

	login, err := s.deps.Logins.Peek(ctx, state)
	if err != nil {
		oauthErrors.WriteJSON(w, stateFailure(err, PathAuthStart))
		return
	}

	tokens, err := s.deps.Broker.ExchangeCode(ctx, code, login.CallbackURL)
	if err != nil {
		oauthErrors.WriteJSON(w, brokerFailure(err))
		return
	}

	if _, err := s.deps.Logins.Consume(ctx, state); err != nil {
		oauthErrors.WriteJSON(w, stateFailure(err, PathAuthStart))
		return
	}

	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		oauthErrors.WriteJSON(w, oauthErrors.NewInvalidRequestError("Invalid JSON body", err))
		return
	}
	if body.RefreshToken == "" {
		oauthErrors.WriteJSON(w, oauthErrors.NewInvalidRequestError("Missing refresh_token in body", nil))
		return
	}

	tokens, err := s.deps.Broker.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		oauthErrors.WriteJSON(w, brokerFailure(err))
		return
	}
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, tokens)
}
