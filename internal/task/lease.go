package task

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// Lease decides task ownership between processes sharing a database.
// Ownership is a pid stored on the task row; a row whose owner is no longer
// alive may be claimed by anyone.
type Lease interface {
	// Self returns the owner id of the current process.
	Self() int

	// Alive reports whether owner pid still holds its leases.
	Alive(ctx context.Context, pid int) (bool, error)
}

// ProcessLease is a Lease backed by operating system process ids.
type ProcessLease struct {
	pid int
}

// NewProcessLease returns a lease owned by the running process.
func NewProcessLease() *ProcessLease {
	return &ProcessLease{pid: os.Getpid()}
}

func (l *ProcessLease) Self() int {
	return l.pid
}

func (l *ProcessLease) Alive(ctx context.Context, pid int) (bool, error) {
	if pid == l.pid {
		return true, nil
	}
	if pid <= 0 {
		return false, nil
	}
	alive, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return false, fmt.Errorf("probe pid %d: %w", pid, err)
	}
	return alive, nil
}
