package stats

import "github.com/prometheus/procfs"

func currentRSSBytes() int64 {
	proc, err := procfs.Self()
	if err != nil {
		return 0
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0
	}
	return int64(stat.ResidentMemory())
}

func countOpenFDs() int {
	proc, err := procfs.Self()
	if err != nil {
		return 0
	}
	n, err := proc.FileDescriptorsLen()
	if err != nil {
		return 0
	}
	return n
}
