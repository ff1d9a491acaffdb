// Package shield provides the HTTP middleware stack for the service:
// security headers, request body limits, and per-request trace IDs with a
// structured logger in the context.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack() {
//		r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

const (
	// LoggerKey is the context key for the per-request structured logger.
	LoggerKey contextKey = "shield_logger"

	// TraceKey is the context key for the request trace ID.
	TraceKey contextKey = "shield_trace"
)

// APIStack returns the standard middleware stack for the JSON API.
// Ordered: SecurityHeaders → MaxBody → TraceID.
func APIStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxBody(64 * 1024),
		TraceID,
	}
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceKey, id)
}

// TraceIDFrom retrieves the trace ID, or "" if none was set.
func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(TraceKey).(string)
	return v
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
