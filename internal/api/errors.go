package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidParameters):
		return http.StatusBadRequest

	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict

	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrConcurrencyLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, domain.ErrUnavailable),
		errors.Is(err, domain.ErrOverloaded):
		return http.StatusServiceUnavailable

	case errors.Is(err, domain.ErrConversionFailed):
		return http.StatusUnprocessableEntity

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidParameters):
		// validation detail is already user-safe; pass it through
		return err.Error()

	case errors.Is(err, domain.ErrNotFound):
		return "Resource not found"

	case errors.Is(err, domain.ErrConflict):
		return "Request conflicts with a previous request"

	case errors.Is(err, domain.ErrRateLimited):
		return "Rate limit exceeded"

	case errors.Is(err, domain.ErrConcurrencyLimited):
		return "Too many concurrent requests"

	case errors.Is(err, domain.ErrUnavailable):
		return "Conversion method is currently unavailable"

	case errors.Is(err, domain.ErrOverloaded):
		return "Server is overloaded, try again later"

	case errors.Is(err, domain.ErrConversionFailed):
		return err.Error()

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Check if this is likely a validator.ValidationErrors message
	if strings.Contains(errMsg, "Field validation") {
		// Example format: "Key: 'ConvertRequest.InputRef' Error:Field validation for 'InputRef' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
