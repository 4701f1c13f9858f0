package context

import (
	"context"
	"log/slog"

	"orpheus/internal/domain/entity"

	"github.com/labstack/echo/v4"
)

// SetIdentity attaches the authenticated identity to echo.Context and the request context.
// A request-scoped logger already on the context gains the user_id attribute.
func SetIdentity(c echo.Context, identity *entity.Identity) {
	c.Set(echoKeyIdentity, identity)

	ctx := WithIdentity(c.Request().Context(), identity)
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		ctx = WithLogger(ctx, logger.With(slog.String("user_id", identity.UserID.String())))
	}
	c.SetRequest(c.Request().WithContext(ctx))
}

// GetIdentity returns the identity set by the session middleware.
// ok is false on routes the middleware did not guard.
func GetIdentity(c echo.Context) (*entity.Identity, bool) {
	identity, ok := c.Get(echoKeyIdentity).(*entity.Identity)
	if !ok || identity == nil {
		return nil, false
	}

	return identity, true
}

// WithIdentity returns a new context carrying the identity.
func WithIdentity(ctx context.Context, identity *entity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext extracts the identity from standard context.Context.
func IdentityFromContext(ctx context.Context) (*entity.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*entity.Identity)
	if !ok || identity == nil {
		return nil, false
	}

	return identity, true
}
