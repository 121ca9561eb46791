package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	// This is a generic version of the entity-specific not found errors
	// (e.g., ErrTaskNotFound, ErrGalleryNotFound).
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity (e.g., a user with the same name).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrBusy is returned when a transaction could not begin because another
	// connection or process held the database lock for every retry attempt.
	ErrBusy = errors.New("database is busy")

	// ErrCommitBusy is returned when a commit kept failing with a busy
	// database until the commit retry ceiling was reached.
	ErrCommitBusy = errors.New("commit failed: database is busy")

	// ErrClosed is returned for operations on a store that was closed.
	ErrClosed = errors.New("store is closed")

	// Entity-specific "not found" errors

	// ErrTaskNotFound indicates that the requested task does not exist in the store.
	ErrTaskNotFound = fmt.Errorf("%w: task", ErrNotFound)

	// ErrGalleryNotFound indicates that no gmeta row exists for the gid.
	ErrGalleryNotFound = fmt.Errorf("%w: gallery", ErrNotFound)

	// ErrPageNotFound indicates that no pmeta row matched.
	ErrPageNotFound = fmt.Errorf("%w: page", ErrNotFound)

	// ErrFileNotFound indicates that no file row matched.
	ErrFileNotFound = fmt.Errorf("%w: file", ErrNotFound)

	// ErrTagNotFound indicates that the requested tag does not exist in the store.
	ErrTagNotFound = fmt.Errorf("%w: tag", ErrNotFound)

	// ErrUserNotFound indicates that the requested user does not exist in the store.
	ErrUserNotFound = fmt.Errorf("%w: user", ErrNotFound)

	// ErrTokenNotFound indicates that the bearer token does not exist in the store.
	ErrTokenNotFound = fmt.Errorf("%w: token", ErrNotFound)

	// ErrSharedTokenNotFound indicates that the shared token does not exist in the store.
	ErrSharedTokenNotFound = fmt.Errorf("%w: shared token", ErrNotFound)

	// Entity-specific "duplicate" errors

	// ErrUsernameExists indicates that a user with the given name already exists.
	ErrUsernameExists = fmt.Errorf("%w: username", ErrDuplicate)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
// Entity-specific variants all wrap ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsBusyError reports whether err is one of the contention errors.
func IsBusyError(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrCommitBusy)
}

// StoreError is a custom error type for store-specific errors with additional context.
type StoreError struct {
	Entity    string // The entity type (e.g., "task", "gmeta")
	Operation string // The operation that failed (e.g., "insert", "update")
	Message   string // Error message
	Err       error  // Original error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf(
			"%s operation on %s failed: %s: %v",
			e.Operation,
			e.Entity,
			e.Message,
			e.Err,
		)
	}
	return fmt.Sprintf("%s operation on %s failed: %s", e.Operation, e.Entity, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError with the given entity, operation, message, and wrapped error.
func NewStoreError(entity, operation, message string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}
