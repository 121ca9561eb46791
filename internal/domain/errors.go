// Package domain defines the core business entities and errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidGID is returned when a gallery id is not a positive integer.
	ErrInvalidGID = errors.New("invalid gallery id")

	// ErrInvalidToken is returned when a gallery or page token is malformed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidURL is returned when a URL does not point at a gallery or page.
	ErrInvalidURL = errors.New("invalid gallery url")

	// ErrInvalidTaskType is returned for task kinds outside the known enum.
	ErrInvalidTaskType = errors.New("invalid task type")

	// ErrInvalidPassword is returned when a password doesn't meet requirements.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrEmptyUsername is returned when a user is created without a name.
	ErrEmptyUsername = errors.New("username cannot be empty")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")
)

// ValidationError represents an error that occurs when validating a domain entity.
// It contains information about which field failed validation and why.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error returns a string representation of the validation error.
func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed for %s: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap exposes ErrValidation and the underlying error to errors.Is.
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Err:     err,
	}
}
