package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	"golang.org/x/mod/semver"
)

// SchemaVersion is the version marker written by the newest migration.
const SchemaVersion = "1.0.0-4"

// versionID is the key of the row holding the schema version.
const versionID = "eh"

// migration upgrades the schema to target. Statements run only when the
// stored version is older than target.
type migration struct {
	version    int64
	target     string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		target:  "1.0.0-0",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS version (
				id TEXT,
				ver TEXT,
				PRIMARY KEY (id)
			)`,
			`CREATE TABLE task (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				type INT,
				gid INT,
				token TEXT,
				pid INT,
				details TEXT
			)`,
			`CREATE TABLE gmeta (
				gid INT,
				token TEXT,
				title TEXT,
				title_jpn TEXT,
				category TEXT,
				uploader TEXT,
				posted INT,
				filecount INT,
				filesize INT,
				expunged BOOLEAN,
				rating REAL,
				parent_gid INT,
				parent_key TEXT,
				first_gid INT,
				first_key TEXT,
				PRIMARY KEY (gid)
			)`,
			`CREATE TABLE pmeta (
				gid INT,
				"index" INT,
				token TEXT,
				name TEXT,
				width INT,
				height INT,
				PRIMARY KEY (gid, "index")
			)`,
			`CREATE TABLE file (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				token TEXT,
				path TEXT,
				width INT,
				height INT,
				is_original BOOLEAN
			)`,
			`CREATE TABLE tag (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				tag TEXT,
				translated TEXT,
				intro TEXT,
				UNIQUE (tag)
			)`,
			`CREATE TABLE gtag (
				gid INT,
				id INT,
				PRIMARY KEY (gid, id)
			)`,
		},
	},
	{
		version: 2,
		target:  "1.0.0-1",
		statements: []string{
			`CREATE TABLE filemeta (
				token TEXT,
				is_nsfw BOOLEAN,
				is_ad BOOLEAN,
				PRIMARY KEY (token)
			)`,
		},
	},
	{
		version: 3,
		target:  "1.0.0-2",
		statements: []string{
			`CREATE TABLE user (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				username TEXT,
				password TEXT,
				is_admin BOOLEAN,
				permissions INT,
				UNIQUE (username)
			)`,
			`CREATE TABLE token (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				uid INT,
				token TEXT,
				expired INT,
				http_only BOOLEAN,
				secure BOOLEAN,
				last_used TEXT,
				client TEXT,
				device TEXT,
				client_version TEXT,
				client_platform TEXT,
				UNIQUE (token)
			)`,
		},
	},
	{
		version: 4,
		target:  "1.0.0-3",
		statements: []string{
			`CREATE TABLE shared_token (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				token TEXT,
				expired INT,
				type TEXT,
				info TEXT,
				UNIQUE (token)
			)`,
		},
	},
	{
		version: 5,
		target:  "1.0.0-4",
		statements: []string{
			`CREATE INDEX IF NOT EXISTS pmeta_token ON pmeta (token)`,
			`CREATE INDEX IF NOT EXISTS file_token ON file (token)`,
			`CREATE INDEX IF NOT EXISTS task_pid ON task (pid)`,
			`CREATE INDEX IF NOT EXISTS token_uid ON token (uid)`,
		},
	},
}

// compareVersions orders two schema versions. An empty version is older than
// any other.
func compareVersions(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}
	return semver.Compare("v"+a, "v"+b)
}

// readVersion returns the stored schema version, or "" when the version
// table is absent or empty.
func readVersion(ctx context.Context, tx *sql.Tx) (string, error) {
	var name string
	err := tx.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'version'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	var ver string
	err = tx.QueryRowContext(ctx, `SELECT ver FROM version WHERE id = ?`, versionID).Scan(&ver)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return ver, err
}

// run applies the migration inside goose's transaction and writes the new
// version marker in that same transaction.
func (m migration) run(ctx context.Context, tx *sql.Tx) error {
	current, err := readVersion(ctx, tx)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if compareVersions(current, m.target) >= 0 {
		return nil
	}
	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", m.version, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO version (id, ver) VALUES (?, ?)`, versionID, m.target); err != nil {
		return fmt.Errorf("migration %d: failed to write version: %w", m.version, err)
	}
	return nil
}

func gooseMigrations() []*goose.Migration {
	out := make([]*goose.Migration, 0, len(migrations))
	for _, m := range migrations {
		m := m
		out = append(out, goose.NewGoMigration(m.version, &goose.GoFunc{RunTx: m.run}, nil))
	}
	return out
}

// slogGooseLogger adapts the goose logger interface to use slog
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf implements the goose.Logger Printf method by forwarding messages to slog.Info
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements the goose.Logger Fatalf method by forwarding error messages to slog.Error
// Note: Unlike the standard Fatalf behavior, this does NOT call os.Exit
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// migrate brings the schema up to date.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, nil,
		goose.WithDisableGlobalRegistry(true),
		goose.WithGoMigrations(gooseMigrations()...),
		goose.WithLogger(&slogGooseLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info("applied migration",
			"version", r.Source.Version,
			"duration", r.Duration)
	}
	return nil
}
