// Package sqlite implements the storage engine of the archiver on an embedded
// SQLite database.
//
// One database file under the base directory is shared by every process
// running against that directory. Writers serialize through exclusive
// transactions plus an advisory file lock (db.lock) held for the duration of
// each transaction. The schema is versioned: goose tracks applied migrations
// and each migration also upgrades the semantic version marker kept in the
// version table, applying its statements only when the stored version is older.
package sqlite
