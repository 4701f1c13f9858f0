package middleware

import (
	"log/slog"

	"orpheus/config"
	deliverycontext "orpheus/internal/delivery/context"
	"orpheus/internal/domain/entity"
	domainerrors "orpheus/internal/domain/errors"
	"orpheus/internal/domain/service"
	"orpheus/internal/infra/metrics"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

// SessionMiddleware guards routes that require a live session.
type SessionMiddleware struct {
	sessions service.SessionStore
	sliding  bool
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// SessionMiddlewareParams holds dependencies for SessionMiddleware, injected by Fx.
type SessionMiddlewareParams struct {
	fx.In

	Sessions service.SessionStore
	Config   *config.Config
	Metrics  *metrics.Metrics `optional:"true"`
	Logger   *slog.Logger
}

// NewSessionMiddleware is the constructor for SessionMiddleware.
func NewSessionMiddleware(params SessionMiddlewareParams) *SessionMiddleware {
	sliding := false
	if params.Config != nil && params.Config.Session != nil {
		sliding = params.Config.Session.Sliding
	}

	return &SessionMiddleware{
		sessions: params.Sessions,
		sliding:  sliding,
		metrics:  params.Metrics,
		logger:   params.Logger,
	}
}

// Authenticate resolves the bearer token and attaches the identity to the request.
func (m *SessionMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := deliverycontext.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			m.metrics.RecordSessionValidation(metrics.SessionMissingToken)

			return domainerrors.ErrMissingToken
		}

		ctx := c.Request().Context()
		logger := deliverycontext.LoggerFromContext(ctx, m.logger)

		userID, found, err := m.sessions.Resolve(ctx, token)
		if err != nil {
			logger.Error("Failed to validate session", slog.Any("error", err))
			m.metrics.RecordSessionValidation(metrics.SessionError)

			return domainerrors.ErrSessionValidationFailed.WrapMessage("resolve session")
		}
		if !found {
			logger.Debug("Session not found", slog.String("token_prefix", entity.TokenPrefix(token)))
			m.metrics.RecordSessionValidation(metrics.SessionInvalid)

			return domainerrors.ErrInvalidSession
		}

		if m.sliding {
			if err := m.sessions.Refresh(ctx, token); err != nil {
				logger.Warn("Failed to extend session", slog.Any("error", err))
			}
		}

		m.metrics.RecordSessionValidation(metrics.SessionValid)
		deliverycontext.SetIdentity(c, &entity.Identity{UserID: userID, Token: token})

		return next(c)
	}
}
