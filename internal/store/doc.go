// Package store defines the persistence contracts of the archiver: the
// query interface shared by connections and transactions, the transaction
// modes, the store interfaces consumed by the task manager and executors,
// and the errors every implementation maps its failures onto.
package store
