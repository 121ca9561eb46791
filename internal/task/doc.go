// Package task schedules persisted tasks onto executors.
//
// Tasks live as rows in the database so that several processes sharing one
// base directory can cooperate: each process runs a Manager whose scheduling
// loop claims queued rows by writing its own pid into them, runs them through
// the registered Executor and removes them when done. Rows owned by a process
// that is no longer alive are taken over by whoever notices first.
//
// Executors report progress through the Host interface, and clients follow
// the lifecycle of tasks by subscribing to the manager's events.
package task
