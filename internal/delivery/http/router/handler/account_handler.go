// Package handler contains the HTTP handlers for the application.
package handler

import (
	"log/slog"
	"net/http"

	deliverycontext "orpheus/internal/delivery/context"
	"orpheus/internal/delivery/http/response"
	"orpheus/internal/domain/entity"
	domainerrors "orpheus/internal/domain/errors"
	"orpheus/internal/errors"
	"orpheus/internal/usecase"

	"github.com/labstack/echo/v4"
)

// AccountHandler holds dependencies for account and session handlers.
type AccountHandler struct {
	uc     usecase.AccountUsecase
	logger *slog.Logger
}

// NewAccountHandler is the constructor for AccountHandler, injected by Fx.
func NewAccountHandler(uc usecase.AccountUsecase, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		uc:     uc,
		logger: logger,
	}
}

// Signup handles the account creation request.
func (h *AccountHandler) Signup(c echo.Context) error {
	var input usecase.SignupInput
	if err := bindAndValidate(c, &input); err != nil {
		return err
	}

	output, err := h.uc.Signup(c.Request().Context(), &input)
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, output, "User signed up successfully")
}

// Login handles the credential check and returns a new session token.
func (h *AccountHandler) Login(c echo.Context) error {
	var input usecase.LoginInput
	if err := bindAndValidate(c, &input); err != nil {
		return err
	}

	output, err := h.uc.Login(c.Request().Context(), &input)
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, output, "User logged in successfully")
}

// Logout ends the session the request authenticated with.
func (h *AccountHandler) Logout(c echo.Context) error {
	identity, err := requireIdentity(c)
	if err != nil {
		return err
	}

	if err := h.uc.Logout(c.Request().Context(), identity); err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, nil, "Logged out successfully")
}

// ResetPassword changes the password and ends the current session.
func (h *AccountHandler) ResetPassword(c echo.Context) error {
	identity, err := requireIdentity(c)
	if err != nil {
		return err
	}

	var input usecase.ResetPasswordInput
	if err := bindAndValidate(c, &input); err != nil {
		return err
	}

	if err := h.uc.ResetPassword(c.Request().Context(), identity, &input); err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, nil, "Password changed successfully. Please log in again.")
}

// DeleteAccount removes the authenticated user.
func (h *AccountHandler) DeleteAccount(c echo.Context) error {
	identity, err := requireIdentity(c)
	if err != nil {
		return err
	}

	if err := h.uc.DeleteAccount(c.Request().Context(), identity); err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, nil, "User deleted successfully.")
}

// Profile returns the authenticated user's ID.
func (h *AccountHandler) Profile(c echo.Context) error {
	identity, err := requireIdentity(c)
	if err != nil {
		return err
	}

	output, err := h.uc.Profile(c.Request().Context(), identity)
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, output, "Profile retrieved successfully")
}

// Status reports whether the bearer token still maps to a live session.
// It is not behind the session middleware and checks the header itself.
func (h *AccountHandler) Status(c echo.Context) error {
	token, _ := deliverycontext.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))

	output, err := h.uc.Status(c.Request().Context(), token)
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, output, "Session is active")
}

// HealthCheck reports that the process is serving.
func HealthCheck(c echo.Context) error {
	return response.Success(c, http.StatusOK, map[string]string{"status": "ok"}, "Service is healthy")
}

func bindAndValidate(c echo.Context, input any) error {
	if err := c.Bind(input); err != nil {
		return domainerrors.ErrValidationFailed.WithDetails("malformed request body")
	}

	return c.Validate(input)
}

func requireIdentity(c echo.Context) (*entity.Identity, error) {
	identity, ok := deliverycontext.GetIdentity(c)
	if !ok {
		return nil, domainerrors.ErrMissingToken
	}

	return identity, nil
}
