// Package gc implements the daemon's reclamation loop: idle and TTL
// collection, pressure-driven eviction, capacity and descriptor warnings,
// and zombie reaping.
package gc

import (
	"context"
	"syscall"
	"time"

	"github.com/termlayer/trl/internal/config"
	"github.com/termlayer/trl/internal/logging"
	"github.com/termlayer/trl/internal/session"
	"github.com/termlayer/trl/internal/stats"
)

// defaultInterval is how often the loop wakes.
const defaultInterval = 60 * time.Second

// evictBatch is how many idle sessions one memory-pressure tick removes.
const evictBatch = 5

// Loop periodically reclaims sessions and watches host resources. It takes
// the pool lock only inside individual cleanup calls, never across a sleep.
type Loop struct {
	cfg      *config.Config
	pool     *session.Pool
	stats    *stats.Runtime
	interval time.Duration
}

// New creates a Loop on the standard interval.
func New(cfg *config.Config, pool *session.Pool, st *stats.Runtime) *Loop {
	return &Loop{
		cfg:      cfg,
		pool:     pool,
		stats:    st,
		interval: defaultInterval,
	}
}

// Run ticks until ctx is cancelled. It always returns nil; reclamation
// failures are log lines, not reasons to stop the daemon.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("gc loop stopped")
			return nil
		case <-ticker.C:
			l.tick()
		}
	}
}

// tick runs one reclamation pass. Order matters: cheap collection first,
// pressure eviction only if the host is still under memory pressure after.
func (l *Loop) tick() {
	if removed := l.pool.CleanupIdle(l.cfg.MaxIdleSec()); removed > 0 {
		logging.Info("gc removed idle sessions", logging.Int("count", removed))
	}

	if removed := l.pool.CleanupExpired(l.cfg.SessionTTLSec()); removed > 0 {
		logging.Info("gc removed expired sessions", logging.Int("count", removed))
	}

	memoryMB := l.stats.MemoryRSSBytes() / 1024 / 1024
	if memoryMB > l.cfg.MemoryPressureMB() {
		logging.Warn("gc memory pressure, evicting oldest idle sessions",
			logging.Int64("rss_mb", memoryMB),
			logging.Int64("threshold_mb", l.cfg.MemoryPressureMB()))
		if removed := l.pool.CleanupOldestIdle(evictBatch); removed > 0 {
			logging.Info("gc evicted sessions under memory pressure",
				logging.Int("count", removed))
		}
	}

	active, capacity := l.pool.Active(), l.cfg.MaxSessions()
	if capacity > 0 && 5*active >= 4*capacity {
		logging.Warn("gc session count high",
			logging.Int("active", active),
			logging.Int("max", capacity),
			logging.Int("percent", active*100/capacity))
	}

	if openFDs := l.stats.OpenFDs(); openFDs > l.cfg.FDWarningThreshold() {
		logging.Warn("gc fd pressure",
			logging.Int("open_fds", openFDs),
			logging.Int("threshold", l.cfg.FDWarningThreshold()))
	}

	reapZombies()
}

// reapZombies collects any child whose executor stopped waiting on it, such
// as a process group killed after a timeout.
func reapZombies() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		if status.Signaled() {
			logging.Info("reaped signaled process", logging.Int("pid", pid))
		} else {
			logging.Info("reaped zombie process", logging.Int("pid", pid))
		}
	}
}
