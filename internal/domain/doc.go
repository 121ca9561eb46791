// Package domain contains the catalog entities (galleries, pages, files, tags),
// the persisted task record, and the user/token entities of the archiver.
// It is independent of the storage engine and of any delivery mechanism.
package domain
