// Package stats tracks process-wide runtime counters: uptime, commands run,
// resident memory and open file descriptors. Memory and FD figures are
// best-effort samples; when the platform offers no way to read them the
// accessors return 0 instead of failing.
package stats

import (
	"sync/atomic"
	"time"
)

// Runtime is shared by every handler. Only the command counter mutates on
// the hot path.
type Runtime struct {
	startedAt     time.Time
	totalCommands atomic.Int64
}

// New starts the uptime clock.
func New() *Runtime {
	return &Runtime{startedAt: time.Now()}
}

// IncCommands records one successfully executed command.
func (r *Runtime) IncCommands() {
	r.totalCommands.Add(1)
}

// UptimeS returns whole seconds since the daemon started.
func (r *Runtime) UptimeS() int64 {
	return int64(time.Since(r.startedAt) / time.Second)
}

// TotalCommands returns the number of successfully executed commands.
func (r *Runtime) TotalCommands() int64 {
	return r.totalCommands.Load()
}

// MemoryRSSBytes samples the daemon's resident set size.
func (r *Runtime) MemoryRSSBytes() int64 {
	return currentRSSBytes()
}

// OpenFDs samples the daemon's open file descriptor count.
func (r *Runtime) OpenFDs() int {
	return countOpenFDs()
}
