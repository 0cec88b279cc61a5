// Package daemon supervises the trl daemon process: the single-instance
// guard, the refuse-to-run-as-root check, wiring of the pool, executor,
// server and GC loop, and signal-driven shutdown.
package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/termlayer/trl/internal/config"
	"github.com/termlayer/trl/internal/executor"
	"github.com/termlayer/trl/internal/gc"
	"github.com/termlayer/trl/internal/logging"
	"github.com/termlayer/trl/internal/server"
	"github.com/termlayer/trl/internal/session"
	"github.com/termlayer/trl/internal/stats"
)

// Run starts the daemon and blocks until SIGINT or SIGTERM. It returns nil
// on clean shutdown; startup failures (root refusal, duplicate instance,
// bind failure) come back as errors.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	if os.Geteuid() == 0 && !cfg.AllowRoot() {
		return errors.New("refusing to run as root; set allow_root to override")
	}

	pidPath := PIDFilePath(cfg.SocketPath())
	if err := acquirePIDFile(pidPath); err != nil {
		return err
	}
	defer releasePIDFile(pidPath)

	logging.Info("trld starting",
		logging.String("version", version),
		logging.String("socket", cfg.SocketPath()),
		logging.Int("pid", os.Getpid()),
		logging.Int("max_sessions", cfg.MaxSessions()))

	pool := session.NewPool(cfg.MaxSessions())
	st := stats.New()
	runner := executor.NewBuffered(cfg.MaxOutputBytes(), executor.Limits{
		CPUSeconds:   cfg.ChildCPUSec(),
		MemoryBytes:  cfg.ChildMemoryBytes(),
		MaxProcesses: cfg.ChildNproc(),
	})
	dispatcher := server.NewDispatcher(cfg, pool, runner, st, version)
	srv := server.New(cfg.SocketPath(), dispatcher)
	loop := gc.New(cfg, pool, st)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx) })
	g.Go(func() error { return loop.Run(ctx) })

	<-ctx.Done()
	logging.Info("shutdown signal received")

	err := g.Wait()

	if count := pool.DestroyAll(); count > 0 {
		logging.Info("destroyed sessions on shutdown", logging.Int("count", count))
	}
	return err
}
