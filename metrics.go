package kernel

import (
	"sync/atomic"

	"github.com/rvos-edu/rv64kernel/internal/syscall"
)

// numSyscalls is the size of the syscall ABI table (spec §6): msgout(0)
// through pipe(11).
const numSyscalls = 12

// Metrics tracks syscall-dispatch statistics for a running Kernel,
// adapted from the teacher's atomic-counter Metrics (there: per-operation
// I/O counters updated off the queue hot path; here: per-syscall-number
// counters updated off Dispatch).
type Metrics struct {
	SyscallsTotal   atomic.Uint64
	SyscallErrors   atomic.Uint64
	ProcessesForked atomic.Uint64
	StopTime        atomic.Int64

	perCall [numSyscalls]atomic.Uint64
}

// NewMetrics creates a zeroed Metrics instance.
func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) recordSyscall(number uint64, result int64) {
	m.SyscallsTotal.Add(1)
	if result < 0 {
		m.SyscallErrors.Add(1)
	}
	if number < numSyscalls {
		m.perCall[number].Add(1)
	}
	if number == uint64(syscall.Fork) && result >= 0 {
		m.ProcessesForked.Add(1)
	}
}

// Stop sets StopTime to 1 as a stopped marker; no timestamp is recorded.
func (m *Metrics) Stop() {
	m.StopTime.Store(1)
}

// MetricsSnapshot is a point-in-time copy of Metrics, safe to read without
// racing the live counters.
type MetricsSnapshot struct {
	SyscallsTotal   uint64
	SyscallErrors   uint64
	ProcessesForked uint64
	PerCall         [numSyscalls]uint64
}

// Snapshot returns a consistent-enough point-in-time copy of m.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SyscallsTotal:   m.SyscallsTotal.Load(),
		SyscallErrors:   m.SyscallErrors.Load(),
		ProcessesForked: m.ProcessesForked.Load(),
	}
	for i := range m.perCall {
		snap.PerCall[i] = m.perCall[i].Load()
	}
	return snap
}
