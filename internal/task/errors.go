package task

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyClosed is returned by manager operations after Close.
	ErrAlreadyClosed = errors.New("task manager already closed")

	// ErrNoExecutor is returned when a task kind has no registered executor.
	ErrNoExecutor = errors.New("no executor registered")
)

// RecoverableError marks an executor failure that leaves the task queued
// for another attempt. Any other executor error is fatal to the task.
type RecoverableError struct {
	Err error
}

func (e *RecoverableError) Error() string {
	return e.Err.Error()
}

func (e *RecoverableError) Unwrap() error {
	return e.Err
}

// Recoverable wraps err so IsRecoverable reports true for it.
func Recoverable(err error) error {
	if err == nil {
		return nil
	}
	return &RecoverableError{Err: err}
}

// Recoverablef formats a recoverable error.
func Recoverablef(format string, args ...any) error {
	return &RecoverableError{Err: fmt.Errorf(format, args...)}
}

// IsRecoverable reports whether err or anything it wraps is a RecoverableError.
func IsRecoverable(err error) bool {
	var r *RecoverableError
	return errors.As(err, &r)
}
