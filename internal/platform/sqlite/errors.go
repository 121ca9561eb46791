package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/phrazzld/eharchive/internal/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// isBusy reports whether err is lock contention reported by the engine.
func isBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	default:
		return false
	}
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY conflict.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	default:
		return false
	}
}

// MapError converts engine errors into store errors for one entity.
// sql.ErrNoRows becomes notFound, unique violations become ErrDuplicate,
// everything else is wrapped in a StoreError with the original preserved.
func MapError(err error, entity, operation string, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		if notFound == nil {
			notFound = store.ErrNotFound
		}
		return notFound
	}
	if isUniqueViolation(err) {
		return store.NewStoreError(entity, operation, "unique constraint violated",
			fmt.Errorf("%w: %v", store.ErrDuplicate, err))
	}
	return store.NewStoreError(entity, operation, "database error", err)
}

// boolToInt converts booleans into the 0/1 representation of the schema.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullString returns a driver value for an optional string.
func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// nullInt64 returns a driver value for an optional integer.
func nullInt64(i *int64) any {
	if i == nil {
		return nil
	}
	return *i
}

// stringPtr converts a scanned nullable string.
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// int64Ptr converts a scanned nullable integer.
func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	i := ni.Int64
	return &i
}
