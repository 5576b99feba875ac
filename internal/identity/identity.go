// Package identity carries the acting user through a request context.
package identity

import "context"

type contextKey struct{}

// Anonymous is the user recorded when no identity was established.
const Anonymous = "anonymous"

// WithUser returns a copy of ctx that carries userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// CurrentUserID returns the user stored in ctx, or Anonymous.
func CurrentUserID(ctx context.Context) string {
	if v, ok := ctx.Value(contextKey{}).(string); ok && v != "" {
		return v
	}
	return Anonymous
}
