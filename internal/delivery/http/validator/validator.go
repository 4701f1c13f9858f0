// Package validator adapts go-playground/validator to echo.Validator.
package validator

import (
	"reflect"
	"strings"

	domainerrors "orpheus/internal/domain/errors"
	"orpheus/internal/errors"

	"github.com/go-playground/validator/v10"
)

// CustomValidator validates bound request DTOs using their `validate` tags.
type CustomValidator struct {
	validate *validator.Validate
}

// New creates a validator that reports field names by their json tag.
func New() *CustomValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return &CustomValidator{validate: v}
}

// Validate implements echo.Validator. Failures are returned as ErrValidationFailed
// with one "field: rule" entry per violation in the details.
func (cv *CustomValidator) Validate(i any) error {
	err := cv.validate.Struct(i)
	if err == nil {
		return nil
	}

	if verrs, ok := errors.AsType[validator.ValidationErrors](err); ok {
		return domainerrors.ErrValidationFailed.WithDetails(describe(verrs))
	}

	return domainerrors.ErrValidationFailed.WithDetails("invalid request")
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fe.Field()+": "+fe.Tag()+"="+fe.Param())
			continue
		}
		parts = append(parts, fe.Field()+": "+fe.Tag())
	}

	return strings.Join(parts, "; ")
}
