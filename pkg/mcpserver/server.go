// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package mcpserver provides the MCP (Model Context Protocol) server exposing
// the Otus tools. Tool handlers act on behalf of the Principal that the
// bearer middleware placed in the request context.
package mcpserver

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tecrolabs/otus-mcp/pkg/auth"
	"github.com/tecrolabs/otus-mcp/pkg/versions"
)

const (
	// DefaultName is the server name announced during initialization.
	DefaultName = "otus-mcp"

	// DefaultEndpointPath is where the streamable HTTP transport is mounted.
	DefaultEndpointPath = "/mcp"
)

// TeamsFetcher retrieves the caller's teams from Otus.
type TeamsFetcher interface {
	GetTeams(ctx context.Context, bearer string) (string, error)
}

// Config holds the configuration for the MCP server
type Config struct {
	Name         string
	Version      string
	EndpointPath string
}

// Server is the Otus MCP server.
type Server struct {
	mcpServer  *server.MCPServer
	streamable *server.StreamableHTTPServer
	handler    *Handler
}

// New creates the MCP server and registers its tools.
func New(cfg Config, teams TeamsFetcher) *Server {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Version == "" {
		cfg.Version = versions.GetVersionInfo().Version
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = DefaultEndpointPath
	}

	mcpServer := server.NewMCPServer(
		cfg.Name,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)

	handler := NewHandler(teams)
	registerTools(mcpServer, handler)

	streamable := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath(cfg.EndpointPath),
		server.WithHTTPContextFunc(principalContext),
	)

	return &Server{
		mcpServer:  mcpServer,
		streamable: streamable,
		handler:    handler,
	}
}

// Handler returns the streamable HTTP handler. It must be mounted behind
// auth.Middleware.
func (s *Server) Handler() http.Handler {
	return s.streamable
}

// MCPServer exposes the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// principalContext carries the authenticated Principal from the HTTP request
// into the context tool handlers receive.
func principalContext(ctx context.Context, r *http.Request) context.Context {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return auth.WithPrincipal(ctx, p)
	}
	return ctx
}

func registerTools(mcpServer *server.MCPServer, handler *Handler) {
	mcpServer.AddTool(
		mcp.NewTool(ToolOtusTeams,
			mcp.WithDescription(otusTeamsDescription),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		handler.OtusTeams,
	)
}
