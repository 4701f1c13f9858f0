package middleware

import (
	"net/http"

	domainerrors "orpheus/internal/domain/errors"
	"orpheus/internal/errors"

	"github.com/labstack/echo/v4"
)

// responseStatus returns the status the client receives for this request.
// Middleware sees a handler error before echo's HTTPErrorHandler writes it,
// so an uncommitted response takes its status from the error.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}

	return statusFromError(err)
}

func statusFromError(err error) int {
	if appErr, ok := errors.AsType[domainerrors.AppError](err); ok {
		return appErr.HTTPCode()
	}
	if httpErr, ok := errors.AsType[*echo.HTTPError](err); ok {
		return httpErr.Code
	}

	return http.StatusInternalServerError
}
