package store

import (
	"context"
	"database/sql"
)

// DBTX is an interface that abstracts the database access layer.
// It is implemented by *sql.DB, *sql.Conn and *sql.Tx, allowing store code
// to run the same statements inside or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxMode is the locking behaviour requested when a transaction begins.
type TxMode string

const (
	TxDeferred  TxMode = "DEFERRED"
	TxImmediate TxMode = "IMMEDIATE"
	TxExclusive TxMode = "EXCLUSIVE"
)

// Valid reports whether m is one of the supported modes.
func (m TxMode) Valid() bool {
	switch m {
	case TxDeferred, TxImmediate, TxExclusive:
		return true
	default:
		return false
	}
}
