package logger

import (
	"context"
	"log/slog"
)

type contextKey string

const requestLoggerKey contextKey = "requestLogger"

// ContextWithRequestLogger stores a request-scoped logger in the context.
// The server middleware attaches a logger carrying the request id so that
// handlers can log with consistent correlation attributes.
func ContextWithRequestLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, requestLoggerKey, l)
}

// ContextRequestLogger returns the request-scoped logger from the context.
// Falls back to slog.Default() if no logger was attached.
func ContextRequestLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(requestLoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
