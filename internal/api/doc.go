// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It is a thin adapter between HTTP clients and the
// task manager: handlers admit tasks, list them and manage sessions.
package api
