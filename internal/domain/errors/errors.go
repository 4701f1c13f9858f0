package errors

import (
	"net/http"

	"orpheus/internal/errors"
)

// AppError defines the interface for application-specific errors
type AppError interface {
	error
	HTTPCode() int     // HTTP status code
	ErrorCode() string // Business error code
	Message() string   // User-friendly error message
	Details() string   // Detailed error information (optional)
}

// BaseError is a basic error structure that implements the AppError interface
type BaseError struct {
	httpCode  int
	errorCode string
	message   string
	details   string
}

// NewBaseError creates a new base error
func NewBaseError(httpCode int, errorCode, message, details string) *BaseError {
	return &BaseError{
		httpCode:  httpCode,
		errorCode: errorCode,
		message:   message,
		details:   details,
	}
}

// Error implements the error interface
func (e *BaseError) Error() string {
	return e.message
}

// WrapMessage wraps the error with additional context message
func (e *BaseError) WrapMessage(message string) error {
	return errors.Wrap(e, message)
}

// HTTPCode returns the HTTP status code
func (e *BaseError) HTTPCode() int {
	return e.httpCode
}

// ErrorCode returns the business error code
func (e *BaseError) ErrorCode() string {
	return e.errorCode
}

// Message returns the user-friendly error message
func (e *BaseError) Message() string {
	return e.message
}

// Details returns detailed error information
func (e *BaseError) Details() string {
	return e.details
}

// WithDetails adds detailed error information
func (e *BaseError) WithDetails(details string) *BaseError {
	return &BaseError{
		httpCode:  e.httpCode,
		errorCode: e.errorCode,
		message:   e.message,
		details:   details,
	}
}

// Predefined error types
var (
	// Validation errors
	ErrValidationFailed = NewBaseError(
		http.StatusBadRequest,
		"VALIDATION_FAILED",
		"Invalid input",
		"",
	)

	// Authentication errors. Messages stay uninformative on purpose.
	ErrInvalidCredentials = NewBaseError(
		http.StatusUnauthorized,
		"INVALID_CREDENTIALS",
		"Invalid credentials",
		"",
	)

	ErrInvalidOldPassword = NewBaseError(
		http.StatusUnauthorized,
		"INVALID_OLD_PASSWORD",
		"Invalid old password",
		"",
	)

	ErrMissingToken = NewBaseError(
		http.StatusUnauthorized,
		"MISSING_TOKEN",
		"Missing or invalid Authorization header",
		"",
	)

	ErrInvalidSession = NewBaseError(
		http.StatusUnauthorized,
		"INVALID_SESSION",
		"Invalid or expired session",
		"",
	)

	// Conflict errors. The account flows collapse these into ErrSignupFailed.
	ErrUserAlreadyExists = NewBaseError(
		http.StatusConflict,
		"USER_ALREADY_EXISTS",
		"User already exists",
		"",
	)

	// Storage errors
	ErrSignupFailed = NewBaseError(
		http.StatusInternalServerError,
		"SIGNUP_FAILED",
		"Failed to sign up user",
		"",
	)

	ErrLoginFailed = NewBaseError(
		http.StatusInternalServerError,
		"LOGIN_FAILED",
		"Failed to log in user",
		"",
	)

	ErrSessionCreateFailed = NewBaseError(
		http.StatusInternalServerError,
		"SESSION_CREATE_FAILED",
		"Failed to create session",
		"",
	)

	ErrUserLookupFailed = NewBaseError(
		http.StatusInternalServerError,
		"USER_LOOKUP_FAILED",
		"Failed to fetch user record",
		"",
	)

	ErrLogoutFailed = NewBaseError(
		http.StatusInternalServerError,
		"LOGOUT_FAILED",
		"Failed to logout",
		"",
	)

	ErrPasswordUpdateFailed = NewBaseError(
		http.StatusInternalServerError,
		"PASSWORD_UPDATE_FAILED",
		"Failed to update password",
		"",
	)

	ErrUserDeleteFailed = NewBaseError(
		http.StatusInternalServerError,
		"USER_DELETE_FAILED",
		"Failed to delete user",
		"",
	)

	ErrSessionValidationFailed = NewBaseError(
		http.StatusInternalServerError,
		"SESSION_VALIDATION_FAILED",
		"Failed to validate session",
		"",
	)

	ErrStorageUnavailable = NewBaseError(
		http.StatusInternalServerError,
		"STORAGE_UNAVAILABLE",
		"Storage backend unavailable",
		"",
	)

	// Internal errors
	ErrPasswordHashFailed = NewBaseError(
		http.StatusInternalServerError,
		"PASSWORD_HASH_FAILED",
		"Something went wrong",
		"",
	)

	ErrInternalError = NewBaseError(
		http.StatusInternalServerError,
		"INTERNAL_ERROR",
		"Internal server error",
		"",
	)
)

// DatabaseExecuteError represents a database execution error, implementing the AppError interface
type DatabaseExecuteError struct {
	err     error
	details string
}

// NewDatabaseExecuteError creates a database-related error
func NewDatabaseExecuteError(err error, details string) AppError {
	return &DatabaseExecuteError{
		err:     err,
		details: details,
	}
}

// Error implements the error interface
func (e *DatabaseExecuteError) Error() string {
	return errors.Wrap(e.err, "database execution failed").Error()
}

// HTTPCode returns the HTTP status code
func (e *DatabaseExecuteError) HTTPCode() int {
	return http.StatusInternalServerError
}

// ErrorCode returns the business error code
func (e *DatabaseExecuteError) ErrorCode() string {
	return "DATABASE_EXECUTE_FAILED"
}

// Message returns the user-friendly error message
func (e *DatabaseExecuteError) Message() string {
	return "Storage backend unavailable"
}

// Unwrap exposes the driver error to errors.Is/As.
func (e *DatabaseExecuteError) Unwrap() error {
	return e.err
}

// Details returns detailed error information
func (e *DatabaseExecuteError) Details() string {
	return e.details
}
