// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"orpheus/config"
	"orpheus/internal/delivery/http/middleware"
	"orpheus/internal/delivery/http/router/handler"
	"orpheus/internal/infra/metrics"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type RouterParams struct {
	fx.In

	Config            *config.Config
	AccountHandler    *handler.AccountHandler
	SessionMiddleware *middleware.SessionMiddleware
	Metrics           *metrics.Metrics `optional:"true"`
}

// router holds all the handlers that need to be registered.
type router struct {
	cfg               *config.Config
	accountHandler    *handler.AccountHandler
	sessionMiddleware *middleware.SessionMiddleware
	metrics           *metrics.Metrics
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *router {
	return &router{
		cfg:               params.Config,
		accountHandler:    params.AccountHandler,
		sessionMiddleware: params.SessionMiddleware,
		metrics:           params.Metrics,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *router) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", handler.HealthCheck)

	if r.metrics != nil && r.cfg.Metrics != nil && r.cfg.Metrics.Enabled {
		e.GET(r.cfg.Metrics.Path, echo.WrapHandler(r.metrics.Handler()))
	}

	// Public account routes
	e.POST("/signup", r.accountHandler.Signup)
	e.POST("/login", r.accountHandler.Login)
	e.GET("/auth/status", r.accountHandler.Status)

	// Routes that require a live session
	authenticate := r.sessionMiddleware.Authenticate
	e.POST("/logout", r.accountHandler.Logout, authenticate)
	e.POST("/reset_password", r.accountHandler.ResetPassword, authenticate)
	e.DELETE("/delete", r.accountHandler.DeleteAccount, authenticate)
	e.GET("/profile", r.accountHandler.Profile, authenticate)
}
