// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tecrolabs/otus-mcp/pkg/auth"
	"github.com/tecrolabs/otus-mcp/pkg/otus"
)

type fakeTeams struct {
	body      string
	err       error
	gotBearer string
}

func (f *fakeTeams) GetTeams(_ context.Context, bearer string) (string, error) {
	f.gotBearer = bearer
	return f.body, f.err
}

func withPrincipal(token string) context.Context {
	return auth.WithPrincipal(context.Background(), &auth.Principal{Subject: "auth0|u1", Token: token})
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestOtusTeams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       context.Context
		fetcher   *fakeTeams
		wantError bool
		wantText  string
	}{
		{
			name:     "returns exact body",
			ctx:      withPrincipal("tok"),
			fetcher:  &fakeTeams{body: `{"teams":[]}`},
			wantText: `{"teams":[]}`,
		},
		{
			name:      "no principal",
			ctx:       context.Background(),
			fetcher:   &fakeTeams{},
			wantError: true,
			wantText:  "Authentication required",
		},
		{
			name:      "unauthorized",
			ctx:       withPrincipal("tok"),
			fetcher:   &fakeTeams{err: &otus.APIError{StatusCode: http.StatusUnauthorized}},
			wantError: true,
			wantText:  "Token is invalid or expired",
		},
		{
			name:      "forbidden",
			ctx:       withPrincipal("tok"),
			fetcher:   &fakeTeams{err: &otus.APIError{StatusCode: http.StatusForbidden}},
			wantError: true,
			wantText:  "Insufficient permissions to access teams",
		},
		{
			name:      "server error",
			ctx:       withPrincipal("tok"),
			fetcher:   &fakeTeams{err: &otus.APIError{StatusCode: http.StatusBadGateway, Message: "failed to reach Otus"}},
			wantError: true,
			wantText:  "Otus API error: failed to reach Otus",
		},
		{
			name:      "unexpected error",
			ctx:       withPrincipal("tok"),
			fetcher:   &fakeTeams{err: errors.New("boom")},
			wantError: true,
			wantText:  "Otus API error: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := NewHandler(tt.fetcher).OtusTeams(tt.ctx, mcp.CallToolRequest{})
			require.NoError(t, err)
			assert.Equal(t, tt.wantError, res.IsError)
			assert.Equal(t, tt.wantText, resultText(t, res))
		})
	}
}

func TestOtusTeams_ForwardsPrincipalToken(t *testing.T) {
	t.Parallel()

	fetcher := &fakeTeams{body: "[]"}
	_, err := NewHandler(fetcher).OtusTeams(withPrincipal("eyJ.a.b"), mcp.CallToolRequest{})
	require.NoError(t, err)
	assert.Equal(t, "eyJ.a.b", fetcher.gotBearer)
}

func handle(t *testing.T, s *Server, ctx context.Context, msg string) map[string]any {
	t.Helper()
	resp := s.MCPServer().HandleMessage(ctx, json.RawMessage(msg))
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestServer_ListsAndCallsTool(t *testing.T) {
	t.Parallel()

	s := New(Config{Version: "test"}, &fakeTeams{body: `[{"id":1}]`})
	require.NotNil(t, s.Handler())

	list := handle(t, s, context.Background(), `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	tools := list["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, ToolOtusTeams, tool["name"])
	assert.Equal(t, otusTeamsDescription, tool["description"])

	call := handle(t, s, withPrincipal("tok"),
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"otus_teams","arguments":{}}}`)
	result := call["result"].(map[string]any)
	assert.NotEqual(t, true, result["isError"])
	content := result["content"].([]any)[0].(map[string]any)
	assert.Equal(t, `[{"id":1}]`, content["text"])
}
