package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/termlayer/trl/internal/logging"
)

// PIDFilePath derives the daemon's PID file path from its socket path: same
// directory, same base name, .sock replaced by .pid.
func PIDFilePath(socketPath string) string {
	if strings.HasSuffix(socketPath, ".sock") {
		return strings.TrimSuffix(socketPath, ".sock") + ".pid"
	}
	return socketPath + ".pid"
}

// acquirePIDFile enforces the single-instance guard. If the file names a
// live process it refuses; a stale file is overwritten with the current PID.
func acquirePIDFile(path string) error {
	if data, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && pid > 0 && processAlive(pid) {
			return fmt.Errorf("another instance is already running (pid %d, %s)", pid, path)
		}
		logging.Warn("removing stale pid file",
			logging.String("path", path),
			logging.Int("pid", pid))
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// releasePIDFile removes the PID file; absence is not an error.
func releasePIDFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.Warn("failed to remove pid file",
			logging.String("path", path),
			logging.Err(err))
	}
}

// processAlive probes a PID with signal 0. EPERM still means the process
// exists, just under another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
