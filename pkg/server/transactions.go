// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/tecrolabs/otus-mcp/pkg/ares"
	oauthErrors "github.com/tecrolabs/otus-mcp/pkg/errors"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/oauth"
	"github.com/tecrolabs/otus-mcp/pkg/transaction"
)

// PendingAuthorization is the context of a proxied /oauth/authorize flow,
// stored until the broker calls back.
type PendingAuthorization struct {
	ClientID      string `json:"client_id"`
	RedirectURI   string `json:"redirect_uri"`
	ClientState   string `json:"client_state"`
	CodeChallenge string `json:"code_challenge"`
	Scope         string `json:"scope,omitempty"`
}

// LoginTransaction is the context of a fallback /auth/start flow.
type LoginTransaction struct {
	CallbackURL string `json:"callback_url"`
}

// IssuedCode is an authorization code handed to an MCP client, bound to the
// client, its redirect URI and PKCE challenge. It carries the broker tokens
// the code redeems for.
type IssuedCode struct {
	ClientID      string              `json:"client_id"`
	RedirectURI   string              `json:"redirect_uri"`
	CodeChallenge string              `json:"code_challenge"`
	Scope         string              `json:"scope,omitempty"`
	Tokens        oauth.TokenResponse `json:"tokens"`
}

const restartHint = "State not found or expired, restart the authorization flow"

// stateFailure translates a transaction store error. NotFound means the flow
// must be restarted; anything else is a store outage.
func stateFailure(err error, restartAt string) error {
	if errors.Is(err, transaction.ErrNotFound) {
		msg := restartHint
		if restartAt != "" {
			msg += " at " + restartAt
		}
		return oauthErrors.NewInvalidStateError(msg, err)
	}
	logger.Errorw("transaction store failure", "error", err)
	return oauthErrors.NewError(oauthErrors.ErrTemporarilyUnavailable, "authorization state is temporarily unavailable", err)
}

// codeFailure is stateFailure for authorization codes redeemed at the token endpoint.
func codeFailure(err error) error {
	if errors.Is(err, transaction.ErrNotFound) {
		return oauthErrors.NewInvalidGrantError("authorization code is invalid, expired or already used", err)
	}
	logger.Errorw("authorization code store failure", "error", err)
	return oauthErrors.NewError(oauthErrors.ErrTemporarilyUnavailable, "authorization codes are temporarily unavailable", err)
}

// brokerFailure keeps the broker's status and error code; transport
// failures become 502.
func brokerFailure(err error) error {
	var be *ares.BrokerError
	if errors.As(err, &be) {
		return oauthErrors.NewError(be.Code, be.Message, err).WithStatus(be.StatusCode)
	}
	return oauthErrors.NewUpstreamError("authorization server unavailable", err)
}

// errBrokerState means the broker chose its own state, so the callback could
// never find our transaction.
var errBrokerState = errors.New("broker authorization URL already carries a state parameter")

// withState adds state to an authorization URL returned by the broker.
func withState(authURL, state string) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if q.Get("state") != "" {
		logger.Errorw("broker authorization URL already carries a state parameter, check the ares authorize configuration",
			"host", u.Host)
		return "", errBrokerState
	}
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redirectWithParams sends the user agent to target with params merged into
// its query.
func redirectWithParams(w http.ResponseWriter, r *http.Request, target string, params url.Values) {
	u, err := url.Parse(target)
	if err != nil {
		oauthErrors.WriteJSON(w, oauthErrors.NewServerError("invalid redirect target", err))
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, u.String(), http.StatusFound)
}
