// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tecrolabs/otus-mcp/pkg/ares"
	"github.com/tecrolabs/otus-mcp/pkg/oauth"
	"github.com/tecrolabs/otus-mcp/pkg/registration"
	"github.com/tecrolabs/otus-mcp/pkg/transaction"
)

const brokerLoginURL = "https://login.example.com/authorize?client_id=ares"

func authorizeURL(params map[string]string) string {
	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"state":                 {"client-state"},
		"code_challenge":        {oauth.ComputePKCEChallenge(strings.Repeat("v", 43))},
		"code_challenge_method": {"S256"},
	}
	for k, v := range params {
		if v == "" {
			q.Del(k)
			continue
		}
		q.Set(k, v)
	}
	return PathAuthorize + "?" + q.Encode()
}

func tokenForm(t *testing.T, h *harness, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, PathToken, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return h.do(req)
}

// authorizeAndCallback runs the browser leg of the proxy flow and returns
// the authorization code handed to the client.
func authorizeAndCallback(t *testing.T, h *harness, verifier string) string {
	t.Helper()

	h.broker.EXPECT().Authorize(gomock.Any(), testURL+PathProxyCallback).Return(brokerLoginURL, nil)
	loc := location(t, h.get(authorizeURL(map[string]string{
		"code_challenge": oauth.ComputePKCEChallenge(verifier),
	})))
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	h.broker.EXPECT().ExchangeCode(gomock.Any(), "broker-code", testURL+PathProxyCallback).
		Return(&oauth.TokenResponse{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", ExpiresIn: 3600}, nil)
	loc = location(t, h.get(PathProxyCallback+"?code=broker-code&state="+state))
	assert.Equal(t, "localhost:3000", loc.Host)
	assert.Equal(t, "client-state", loc.Query().Get("state"))
	return loc.Query().Get("code")
}

func TestProxyFlow_EndToEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	verifier := oauth.GeneratePKCEVerifier()
	code := authorizeAndCallback(t, h, verifier)
	require.NotEmpty(t, code)
	assert.Zero(t, h.authorizations.Len())

	form := url.Values{
		"grant_type":    {oauth.GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {testClientID},
		"code_verifier": {verifier},
	}
	rec := tokenForm(t, h, form)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var tokens oauth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "at", tokens.AccessToken)
	assert.Equal(t, "rt", tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)

	// Codes are single use.
	rec = tokenForm(t, h, form)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeBody(t, rec)["error"])
}

func TestAuthorize_Rejections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		name       string
		params     map[string]string
		wantStatus int
		wantError  string
	}{
		{"wrong response type", map[string]string{"response_type": "token"}, http.StatusBadRequest, "unsupported_response_type"},
		{"missing state", map[string]string{"state": ""}, http.StatusBadRequest, "invalid_request"},
		{"unknown client", map[string]string{"client_id": "nobody"}, http.StatusBadRequest, "invalid_client"},
		{"unregistered redirect", map[string]string{"redirect_uri": "http://localhost:9999/cb"}, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := h.get(authorizeURL(tt.params))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantError, decodeBody(t, rec)["error"])
		})
	}
}

func TestAuthorize_PKCEErrorsRedirectToClient(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, params := range []map[string]string{
		{"code_challenge": ""},
		{"code_challenge_method": "plain"},
	} {
		loc := location(t, h.get(authorizeURL(params)))
		assert.Equal(t, "localhost:3000", loc.Host)
		assert.Equal(t, "invalid_request", loc.Query().Get("error"))
		assert.Equal(t, "client-state", loc.Query().Get("state"))
	}
}

func TestAuthorize_BrokerFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.broker.EXPECT().Authorize(gomock.Any(), gomock.Any()).
		Return("", &ares.BrokerError{StatusCode: http.StatusServiceUnavailable, Code: "authorization_error", Message: "down"})
	rec := h.get(authorizeURL(nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "authorization_error", decodeBody(t, rec)["error"])

	h.broker.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return("", errors.New("dial tcp: refused"))
	rec = h.get(authorizeURL(nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "refused")

	// Our state could never come back, so the flow fails up front.
	h.broker.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(brokerLoginURL+"&state=theirs", nil)
	rec = h.get(authorizeURL(nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestProxyCallback_FailedExchangeLeavesTransactionPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.broker.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(brokerLoginURL, nil)
	state := location(t, h.get(authorizeURL(nil))).Query().Get("state")

	h.broker.EXPECT().ExchangeCode(gomock.Any(), "bad", gomock.Any()).
		Return(nil, &ares.BrokerError{StatusCode: http.StatusBadRequest, Code: "invalid_grant", Message: "code already used"})
	rec := h.get(PathProxyCallback + "?code=bad&state=" + state)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "invalid_grant", body["error"])
	assert.Equal(t, "code already used", body["error_description"])

	_, err := h.authorizations.Peek(context.Background(), state)
	require.NoError(t, err)

	h.broker.EXPECT().ExchangeCode(gomock.Any(), "good", gomock.Any()).
		Return(&oauth.TokenResponse{AccessToken: "at"}, nil)
	loc := location(t, h.get(PathProxyCallback+"?code=good&state="+state))
	assert.NotEmpty(t, loc.Query().Get("code"))

	// Replaying the callback finds no transaction.
	rec = h.get(PathProxyCallback + "?code=good&state=" + state)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody(t, rec)["error"])
}

func TestProxyCallback_Rejections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.get(PathProxyCallback + "?state=unknown")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])

	rec = h.get(PathProxyCallback + "?code=c&state=unknown")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody(t, rec)["error"])

	rec = h.get(PathProxyCallback + "?error=access_denied&state=unknown")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "access_denied", decodeBody(t, rec)["error"])
}

func TestProxyCallback_ProviderErrorRedirectsToClient(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.broker.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(brokerLoginURL, nil)
	state := location(t, h.get(authorizeURL(nil))).Query().Get("state")

	loc := location(t, h.get(PathProxyCallback+"?error=access_denied&error_description=nope&state="+state))
	assert.Equal(t, "localhost:3000", loc.Host)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Equal(t, "nope", loc.Query().Get("error_description"))
	assert.Equal(t, "client-state", loc.Query().Get("state"))
}

func TestProxyCallback_ProviderErrorLeavesTransactionPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.broker.EXPECT().Authorize(gomock.Any(), gomock.Any()).Return(brokerLoginURL, nil)
	state := location(t, h.get(authorizeURL(nil))).Query().Get("state")

	// A replayed or prefetched error URL must not end the live flow.
	loc := location(t, h.get(PathProxyCallback+"?error=temporarily_unavailable&state="+state))
	assert.Equal(t, "temporarily_unavailable", loc.Query().Get("error"))

	pending, err := h.authorizations.Peek(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, testClientID, pending.ClientID)

	h.broker.EXPECT().ExchangeCode(gomock.Any(), "broker-code", testURL+PathProxyCallback).
		Return(&oauth.TokenResponse{AccessToken: "at"}, nil)
	loc = location(t, h.get(PathProxyCallback+"?code=broker-code&state="+state))
	assert.Equal(t, "localhost:3000", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Empty(t, loc.Query().Get("error"))
	assert.Equal(t, "client-state", loc.Query().Get("state"))

	_, err = h.authorizations.Peek(context.Background(), state)
	assert.ErrorIs(t, err, transaction.ErrNotFound)
}

func TestToken_RejectedAttemptsDoNotBurnCode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	verifier := oauth.GeneratePKCEVerifier()
	code := authorizeAndCallback(t, h, verifier)

	base := url.Values{
		"grant_type":    {oauth.GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {testClientID},
		"code_verifier": {verifier},
	}
	with := func(k, v string) url.Values {
		f := url.Values{}
		for key, vals := range base {
			f[key] = vals
		}
		f.Set(k, v)
		return f
	}

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantError  string
	}{
		{"wrong verifier", with("code_verifier", oauth.GeneratePKCEVerifier()), http.StatusBadRequest, "invalid_grant"},
		{"wrong redirect", with("redirect_uri", "http://localhost:3000/other"), http.StatusBadRequest, "invalid_grant"},
		{"unknown client", with("client_id", "nobody"), http.StatusUnauthorized, "invalid_client"},
		{"missing verifier", with("code_verifier", ""), http.StatusBadRequest, "invalid_request"},
		{"unknown code", with("code", "forged"), http.StatusBadRequest, "invalid_grant"},
		{"unsupported grant", with("grant_type", "password"), http.StatusBadRequest, "unsupported_grant_type"},
	}
	for _, tt := range tests {
		rec := tokenForm(t, h, tt.form)
		assert.Equal(t, tt.wantStatus, rec.Code, tt.name)
		assert.Equal(t, tt.wantError, decodeBody(t, rec)["error"], tt.name)
	}

	rec := tokenForm(t, h, base)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestToken_ConfidentialClientBasicAuth(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.registry.Register(context.Background(), &registration.Client{
		ID:                      "confidential",
		Secret:                  "s3cret",
		SecretExpiresAt:         time.Now().Add(time.Hour),
		RedirectURIs:            []string{testRedirectURI},
		TokenEndpointAuthMethod: oauth.TokenEndpointAuthMethodClientSecretBasic,
		GrantTypes:              []string{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken},
		ResponseTypes:           []string{oauth.ResponseTypeCode},
	}))

	verifier := oauth.GeneratePKCEVerifier()
	code, err := h.codes.Create(context.Background(), IssuedCode{
		ClientID:      "confidential",
		RedirectURI:   testRedirectURI,
		CodeChallenge: oauth.ComputePKCEChallenge(verifier),
		Tokens:        oauth.TokenResponse{AccessToken: "at"},
	})
	require.NoError(t, err)

	send := func(secret string) *httptest.ResponseRecorder {
		form := url.Values{
			"grant_type":    {oauth.GrantTypeAuthorizationCode},
			"code":          {code},
			"redirect_uri":  {testRedirectURI},
			"code_verifier": {verifier},
		}
		req := httptest.NewRequest(http.MethodPost, PathToken, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth("confidential", secret)
		return h.do(req)
	}

	rec := send("wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decodeBody(t, rec)["error"])

	rec = send("s3cret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "at", decodeBody(t, rec)["access_token"])
}

func TestToken_RefreshGrant(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.broker.EXPECT().Refresh(gomock.Any(), "rt").Return(&oauth.TokenResponse{AccessToken: "at2", TokenType: "Bearer"}, nil)

	req := httptest.NewRequest(http.MethodPost, PathToken,
		strings.NewReader(`{"grant_type": "refresh_token", "refresh_token": "rt", "client_id": "client-1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := h.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "at2", body["access_token"])
	assert.EqualValues(t, oauth.DefaultExpiresIn, body["expires_in"])

	rec = tokenForm(t, h, url.Values{"grant_type": {oauth.GrantTypeRefreshToken}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])

	h.broker.EXPECT().Refresh(gomock.Any(), "revoked").
		Return(nil, &ares.BrokerError{StatusCode: http.StatusUnauthorized, Code: "token_error", Message: "Unauthorized"})
	rec = tokenForm(t, h, url.Values{"grant_type": {oauth.GrantTypeRefreshToken}, "refresh_token": {"revoked"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_error", decodeBody(t, rec)["error"])
}

func TestToken_MalformedBody(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodPost, PathToken, strings.NewReader(`{not json`))
	req.Header.Set("Content-Type", "application/json")
	rec := h.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
}
