// Package main implements the eharchive command. It queues gallery
// downloads, imports and exports in a database shared by every running
// process, runs the scheduler and serves the HTTP API.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
