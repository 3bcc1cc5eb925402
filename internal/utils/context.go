package utils

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	ContextOperatorKey contextKey = "operator"
	ContextLoggerKey   contextKey = "logger"
	ContextTraceIDKey  contextKey = "traceID"
)

// GetOperatorFromContext returns the authenticated operator name.
func GetOperatorFromContext(ctx context.Context) (string, bool) {
	operator, ok := ctx.Value(ContextOperatorKey).(string)
	return operator, ok && operator != ""
}

func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, ContextOperatorKey, operator)
}

func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ContextLoggerKey, l)
}

// LoggerFromContext returns the request-scoped logger, or fallback when the
// request did not pass through the logger middleware.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(ContextLoggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextTraceIDKey, id)
}

func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ContextTraceIDKey).(string)
	return id
}
