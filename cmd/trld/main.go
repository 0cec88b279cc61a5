// Command trld is the Terminal Runtime Layer daemon: it listens on a local
// Unix socket and lets clients allocate shell sessions and run commands in
// them under resource limits.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/termlayer/trl/internal/config"
	"github.com/termlayer/trl/internal/daemon"
	"github.com/termlayer/trl/internal/logging"
)

// version is injected at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "trld:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cfg, err := config.New("")
	if err != nil {
		// New without a config file cannot fail; keep the compiler honest.
		panic(err)
	}

	cmd := &cobra.Command{
		Use:           "trld",
		Short:         "Terminal Runtime Layer daemon",
		Long:          "trld manages persistent shell sessions over a local Unix socket.\nEvery flag can also be set through the matching TRL_* environment variable.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, configFile)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Optional YAML config file")
	if err := cfg.BindFlags(cmd.Flags()); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config, configFile string) error {
	if configFile != "" {
		if err := cfg.ReadFile(configFile); err != nil {
			return err
		}
	}
	cfg.CaptureEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(cfg.LogLevel(), cfg.LogFormat())
	defer logging.Sync()

	return daemon.Run(ctx, cfg, version)
}
