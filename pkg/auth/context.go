package auth

import (
	"context"
	"errors"
)

// Principal identifies the authenticated admin making a request.
type Principal struct {
	UserID    int64
	Username  string
	SessionID string
}

type contextKey struct{}

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	if !ok || p == nil {
		return nil, errors.New("auth: no principal in context")
	}
	return p, nil
}

// Actor returns the username for audit rows, or "system" when the context
// carries no principal (scheduler jobs, CLI runs).
func Actor(ctx context.Context) string {
	if p, err := GetPrincipal(ctx); err == nil {
		return p.Username
	}
	return "system"
}
