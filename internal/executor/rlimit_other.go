//go:build !linux

package executor

// applyLimits is a no-op off Linux: prlimit(2) is Linux-only and child
// resource ceilings are best-effort.
func applyLimits(pid int, limits Limits) {}
