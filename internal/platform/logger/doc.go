// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON logging
// with configurable log levels, optional size-based file rotation, and helpers to carry
// task- or request-scoped loggers through a context.
package logger
