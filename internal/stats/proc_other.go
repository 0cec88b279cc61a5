//go:build !linux

package stats

import (
	"os"

	"golang.org/x/sys/unix"
)

func currentRSSBytes() int64 {
	var usage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &usage); err != nil {
		return 0
	}
	// ru_maxrss is already in bytes on macOS.
	return int64(usage.Maxrss)
}

func countOpenFDs() int {
	entries, err := os.ReadDir("/dev/fd")
	if err != nil {
		return 0
	}
	return len(entries)
}
