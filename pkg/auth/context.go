// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package auth

import "context"

// PrincipalContextKey is the key used to store the Principal in the request context.
type PrincipalContextKey struct{}

// WithPrincipal stores p in the context.
// If p is nil, the original context is returned unchanged.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	if p == nil {
		return ctx
	}
	return context.WithValue(ctx, PrincipalContextKey{}, p)
}

// PrincipalFromContext retrieves the Principal placed by Middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey{}).(*Principal)
	return p, ok
}
