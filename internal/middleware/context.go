// Package middleware carries the HTTP cross-cutting layers: correlation
// injection, JWT authentication, and tier rate limiting.
package middleware

import (
	"context"

	"github.com/novaos/backend/internal/core"
)

type contextKey int

const (
	principalKey contextKey = iota
	correlationKey
)

// WithPrincipal stores the authenticated principal on the context.
func WithPrincipal(ctx context.Context, p *core.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the request principal, anonymous when absent.
func PrincipalFrom(ctx context.Context) *core.Principal {
	if p, ok := ctx.Value(principalKey).(*core.Principal); ok && p != nil {
		return p
	}
	return core.Anonymous()
}

// WithCorrelation stores the request correlation on the context.
func WithCorrelation(ctx context.Context, c core.CorrelationContext) context.Context {
	return context.WithValue(ctx, correlationKey, c)
}

// CorrelationFrom returns the request correlation, a fresh one when absent.
func CorrelationFrom(ctx context.Context) core.CorrelationContext {
	if c, ok := ctx.Value(correlationKey).(core.CorrelationContext); ok {
		return c
	}
	return core.NewCorrelation("unknown", "unknown")
}
