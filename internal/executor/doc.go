// Package executor implements the work behind each task kind: downloading
// and importing galleries, exporting them as zip archives, repairing
// galleries with missing pages, refreshing the search index and the tag
// translations.
//
// Executors are registered on a task.Manager with Register. Per-page work
// runs on a PagePool, which bounds concurrency, retries failed pages and
// stops scheduling on graceful abort. A task whose pages partly failed
// returns a recoverable error so that it stays queued.
package executor
