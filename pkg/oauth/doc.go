// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth provides shared RFC-defined types and constants for the
// OAuth 2.1 surface of otus-mcp: discovery documents (RFC 8414, RFC 9728),
// token responses (RFC 6749) and PKCE (RFC 7636).
package oauth
