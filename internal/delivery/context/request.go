// Package context carries request-scoped values between the delivery layer and the usecases:
// the request ID, a logger bound to it, and the authenticated identity.
package context

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
	identityKey
)

// HeaderXRequestID is echoed back on every response and propagated into security events.
const HeaderXRequestID = echo.HeaderXRequestID

// echoKeyIdentity is the echo.Context store key for the authenticated identity.
const echoKeyIdentity = "identity"

// BindRequest puts the request ID and its logger on the request context.
func BindRequest(c echo.Context, requestID string, logger *slog.Logger) {
	ctx := WithRequestID(c.Request().Context(), requestID)
	ctx = WithLogger(ctx, logger)
	c.SetRequest(c.Request().WithContext(ctx))
}

// RequestIDFromContext returns the request ID carried by ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)

	return id
}

// WithRequestID returns a new context with the request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// LoggerFromContext returns the request-scoped logger, or fallback when ctx has none.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}

	return fallback
}

// WithLogger returns a new context with the logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}
