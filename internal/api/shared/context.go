package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
)

// Key type for context values
type ContextKey string

// Context keys for values set by middleware and read by handlers.
const (
	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// IdentityKey is the key for the caller identity resolved by the auth
	// middleware (API-key subject, token subject, or client IP).
	IdentityKey ContextKey = "identity"

	// TierKey is the key for the caller's resolved tier name.
	TierKey ContextKey = "tier"

	// TraceIDLength is the number of bytes used to generate the trace ID
	TraceIDLength = 16 // 32 hex characters
)

// SetTraceID adds a trace ID to the context.
// This is useful for correlating logs and error responses.
func SetTraceID(ctx context.Context) context.Context {
	return context.WithValue(ctx, TraceIDKey, generateTraceID())
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

// SetCaller records the resolved identity and tier on the context.
func SetCaller(ctx context.Context, identity, tier string) context.Context {
	ctx = context.WithValue(ctx, IdentityKey, identity)
	return context.WithValue(ctx, TierKey, tier)
}

// GetIdentity retrieves the caller identity from the context.
func GetIdentity(ctx context.Context) string {
	identity, ok := ctx.Value(IdentityKey).(string)
	if !ok {
		return ""
	}
	return identity
}

// GetTier retrieves the caller tier from the context.
func GetTier(ctx context.Context) string {
	tier, ok := ctx.Value(TierKey).(string)
	if !ok {
		return ""
	}
	return tier
}

// generateTraceID creates a random trace ID for request tracking.
// Returns a 32-character hex string (16 bytes).
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; log and carry
		// on with whatever bytes were written rather than a static value
		slog.Error("failed to generate secure random trace ID", "error", err)
	}
	return hex.EncodeToString(b)
}
