// Package meili keeps a MeiliSearch index of the gallery catalog in sync.
//
// Syncer listens for gallery events and turns them into document updates
// and deletions on the "gmeta" index. Both operations are idempotent, so
// repeated or out-of-order events only cost a redundant request.
package meili
