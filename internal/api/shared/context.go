package shared

import (
	"context"

	"github.com/google/uuid"

	"github.com/phrazzld/eharchive/internal/domain"
)

// Key type for context values
type ContextKey string

// Context keys for various values
const (
	// UserContextKey holds the authenticated *domain.User.
	UserContextKey ContextKey = "user"

	// TokenContextKey holds the *domain.Token the request authenticated with.
	TokenContextKey ContextKey = "token"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"
)

// SetTraceID adds a fresh trace ID to the context.
// This is useful for correlating logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, uuid.NewString())
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// WithUser stores the authenticated user and session in ctx.
func WithUser(ctx context.Context, u *domain.User, t *domain.Token) context.Context {
	ctx = context.WithValue(ctx, UserContextKey, u)
	return context.WithValue(ctx, TokenContextKey, t)
}

// UserFromContext returns the authenticated user, or nil when the request is
// anonymous.
func UserFromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(UserContextKey).(*domain.User)
	return u
}

// TokenFromContext returns the session the request authenticated with.
func TokenFromContext(ctx context.Context) *domain.Token {
	t, _ := ctx.Value(TokenContextKey).(*domain.Token)
	return t
}
