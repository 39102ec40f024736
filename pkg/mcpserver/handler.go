// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/tecrolabs/otus-mcp/pkg/auth"
	"github.com/tecrolabs/otus-mcp/pkg/logger"
	"github.com/tecrolabs/otus-mcp/pkg/otus"
)

// ToolOtusTeams is the name of the teams tool.
const ToolOtusTeams = "otus_teams"

const otusTeamsDescription = "Retrieve teams from the Otus API. " +
	"Returns a list of teams the authenticated user has access to."

// Handler handles MCP tool requests.
type Handler struct {
	teams TeamsFetcher
}

// NewHandler creates a tool handler.
func NewHandler(teams TeamsFetcher) *Handler {
	return &Handler{teams: teams}
}

// OtusTeams returns the caller's teams as the JSON text Otus produced.
// Failures are reported as tool errors, never as protocol errors.
func (h *Handler) OtusTeams(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok || principal.Token == "" {
		return mcp.NewToolResultError("Authentication required"), nil
	}

	body, err := h.teams.GetTeams(ctx, principal.Token)
	if err != nil {
		logger.Debugw("otus_teams failed", "subject", principal.Subject, "error", err)
		return mcp.NewToolResultError(toolMessage(err)), nil
	}
	return mcp.NewToolResultText(body), nil
}

func toolMessage(err error) string {
	switch {
	case otus.IsUnauthorized(err):
		return "Token is invalid or expired"
	case otus.IsForbidden(err):
		return "Insufficient permissions to access teams"
	}
	var apiErr *otus.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("Otus API error: %s", apiErr.Message)
	}
	return fmt.Sprintf("Otus API error: %v", err)
}
