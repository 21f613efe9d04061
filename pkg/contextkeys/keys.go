// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the application are defined here so key
// usage stays discoverable and collision-free.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains the auth.Identity resolved by the
	// authentication guard (pkg/middleware/auth.go). Required by every
	// protected endpoint and by the admin guard.
	IdentityKey Key = "identity"

	// RequestIDKey contains the request ID string (UUID), set by the
	// request-id middleware and used by logging.
	RequestIDKey Key = "request_id"
)

// WithIdentity adds the resolved caller identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
