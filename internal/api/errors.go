package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/eharchive/internal/api/shared"
	"github.com/phrazzld/eharchive/internal/domain"
	"github.com/phrazzld/eharchive/internal/store"
	"github.com/phrazzld/eharchive/internal/task"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidPassword):
		return http.StatusUnauthorized

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, store.ErrUsernameExists):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrBusy),
		errors.Is(err, store.ErrCommitBusy),
		errors.Is(err, task.ErrAlreadyClosed):
		return http.StatusServiceUnavailable

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

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Sprintf("Invalid %s: %s", verr.Field, verr.Message)
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidPassword):
		return "Incorrect username or password"
	case errors.Is(err, store.ErrGalleryNotFound):
		return "Gallery not found"
	case errors.Is(err, store.ErrUserNotFound):
		return "User not found"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, store.ErrUsernameExists):
		return "Username already exists"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"
	case errors.Is(err, store.ErrBusy),
		errors.Is(err, store.ErrCommitBusy):
		return "Database is busy, try again later"
	case errors.Is(err, task.ErrAlreadyClosed):
		return "Task manager is shutting down"
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes err as a failed envelope with a status derived from
// its type. fallback replaces the message of unexpected errors when set.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, status, message, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Example format: "Key: 'LoginRequest.Username' Error:Field validation for 'Username' failed on the 'required' tag"
	if strings.Contains(errMsg, "Field validation") {
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
	case "min", "gt", "gte":
		return "too small"
	case "max", "lt", "lte":
		return "too large"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
