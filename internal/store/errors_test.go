package store

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("some error"),
			expected: false,
		},
		{
			name:     "wrapped generic error",
			err:      fmt.Errorf("failed to do something: %w", errors.New("some error")),
			expected: false,
		},
		{
			name:     "ErrNotFound",
			err:      ErrNotFound,
			expected: true,
		},
		{
			name:     "wrapped ErrNotFound",
			err:      fmt.Errorf("failed to do something: %w", ErrNotFound),
			expected: true,
		},
		{
			name:     "ErrUserNotFound",
			err:      ErrUserNotFound,
			expected: true,
		},
		{
			name:     "wrapped ErrUserNotFound",
			err:      fmt.Errorf("failed to find user: %w", ErrUserNotFound),
			expected: true,
		},
		{
			name:     "ErrTaskNotFound",
			err:      ErrTaskNotFound,
			expected: true,
		},
		{
			name:     "ErrGalleryNotFound",
			err:      ErrGalleryNotFound,
			expected: true,
		},
		{
			name:     "ErrPageNotFound",
			err:      ErrPageNotFound,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFoundError(tt.err); got != tt.expected {
				t.Errorf("IsNotFoundError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIsDuplicateError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("some error"),
			expected: false,
		},
		{
			name:     "ErrDuplicate",
			err:      ErrDuplicate,
			expected: true,
		},
		{
			name:     "wrapped ErrDuplicate",
			err:      fmt.Errorf("failed to create: %w", ErrDuplicate),
			expected: true,
		},
		{
			name:     "ErrUsernameExists",
			err:      ErrUsernameExists,
			expected: true,
		},
		{
			name:     "wrapped ErrUsernameExists",
			err:      fmt.Errorf("failed to create user: %w", ErrUsernameExists),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicateError(tt.err); got != tt.expected {
				t.Errorf("IsDuplicateError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStoreError(t *testing.T) {
	cause := errors.New("disk I/O error")

	tests := []struct {
		name      string
		err       *StoreError
		want      string
		wantIs    []error
		wantNotIs []error
	}{
		{
			name:   "task update failure",
			err:    NewStoreError("task", "update", "database error", cause),
			want:   "update operation on task failed: database error: disk I/O error",
			wantIs: []error{cause},
		},
		{
			name:      "gtag delete without cause",
			err:       NewStoreError("gtag", "delete", "database error", nil),
			want:      "delete operation on gtag failed: database error",
			wantNotIs: []error{cause, ErrNotFound},
		},
		{
			name:      "invalid gallery",
			err:       NewStoreError("gmeta", "insert", "invalid gallery", errors.Join(ErrInvalidEntity, cause)),
			want:      "insert operation on gmeta failed: invalid gallery: invalid entity\ndisk I/O error",
			wantIs:    []error{ErrInvalidEntity, cause},
			wantNotIs: []error{ErrDuplicate},
		},
		{
			name:   "duplicate token",
			err:    NewStoreError("token", "insert", "unique constraint violated", fmt.Errorf("%w: UNIQUE constraint failed: token.token", ErrDuplicate)),
			want:   "insert operation on token failed: unique constraint violated: entity already exists: UNIQUE constraint failed: token.token",
			wantIs: []error{ErrDuplicate},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			for _, target := range tt.wantIs {
				if !errors.Is(tt.err, target) {
					t.Errorf("errors.Is(%v) = false, want true", target)
				}
			}
			for _, target := range tt.wantNotIs {
				if errors.Is(tt.err, target) {
					t.Errorf("errors.Is(%v) = true, want false", target)
				}
			}

			wrapped := fmt.Errorf("claim task 4: %w", tt.err)
			var se *StoreError
			if !errors.As(wrapped, &se) || se != tt.err {
				t.Errorf("errors.As did not recover the StoreError")
			}
		})
	}
}

func TestIsBusyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("locked"), false},
		{"ErrBusy", ErrBusy, true},
		{"wrapped ErrCommitBusy", fmt.Errorf("update task: %w", ErrCommitBusy), true},
		{"not found is not busy", ErrTaskNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBusyError(tt.err); got != tt.expected {
				t.Errorf("IsBusyError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTxModeValid(t *testing.T) {
	for _, m := range []TxMode{TxDeferred, TxImmediate, TxExclusive} {
		if !m.Valid() {
			t.Errorf("%s should be valid", m)
		}
	}
	if TxMode("SERIALIZABLE").Valid() {
		t.Error("unknown mode should be invalid")
	}
}
