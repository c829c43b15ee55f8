// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/breezeboot/breeze/pkg/contextkeys"
//	ctx = contextkeys.WithPrincipal(ctx, principal)
//	p, ok := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.Auth (pkg/middleware/auth.go)
	// Required by: authz endpoints, RequirePermission middleware
	// Type: *auth.Principal
	PrincipalKey Key = "principal"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains logrus.FieldLogger
	// Set by: middleware.RequestID
	// Used by: Handlers that need structured logging with request context
	// Type: logrus.FieldLogger
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains request start timestamp
	// Set by: middleware.RequestID
	// Used by: Duration calculation for request logs
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// WithPrincipal adds the authenticated principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetRequestStartTime retrieves the request start time from context
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return t, ok
}
