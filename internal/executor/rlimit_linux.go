package executor

import "golang.org/x/sys/unix"

// applyLimits clamps the child's CPU time, address space and process count.
// Failures are ignored: the child may already have exited, and limits are
// best-effort containment rather than a security boundary.
func applyLimits(pid int, limits Limits) {
	set := func(resource int, value uint64) {
		lim := unix.Rlimit{Cur: value, Max: value}
		_ = unix.Prlimit(pid, resource, &lim, nil)
	}
	set(unix.RLIMIT_CPU, uint64(limits.CPUSeconds))
	set(unix.RLIMIT_AS, uint64(limits.MemoryBytes))
	set(unix.RLIMIT_NPROC, uint64(limits.MaxProcesses))
}
