// Command trlctl talks to a running trld daemon over its Unix socket:
// liveness checks, runtime stats, session management and one-shot command
// execution.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/termlayer/trl/pkg/protocol"
)

// version is injected at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	socketPath   string
	outputFormat string
)

// exitCodeError carries the remote command's exit code out of trlctl exec.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.code)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, "trlctl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trlctl",
		Short:         "Control a running trld daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&socketPath, "socket", protocol.DefaultSocketPath, "Daemon socket path")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, json, yaml)")

	cmd.AddCommand(
		newPingCmd(),
		newStatsCmd(),
		newStatusCmd(),
		newSessionCmd(),
		newExecCmd(),
	)
	return cmd
}

// dial connects to the daemon and hands the client to fn, closing it after.
func dial(fn func(c *protocol.Client) error) error {
	c, err := protocol.Dial(socketPath)
	if err != nil {
		return fmt.Errorf("is trld running? %w", err)
	}
	defer c.Close()
	return fn(c)
}

// emit renders v according to --output. The text form comes from the caller;
// json and yaml render the structure itself.
func emit(v any, text func() string) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	default:
		fmt.Println(text())
		return nil
	}
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check daemon liveness",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dial(func(c *protocol.Client) error {
				res, err := c.Ping()
				if err != nil {
					return err
				}
				return emit(res, func() string {
					return fmt.Sprintf("pong (version %s, up %ds)", res.Version, res.UptimeS)
				})
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show daemon runtime statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dial(func(c *protocol.Client) error {
				res, err := c.Stats()
				if err != nil {
					return err
				}
				return emit(res, func() string { return formatStats(res) })
			})
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon liveness, stats and sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dial(func(c *protocol.Client) error {
				ping, err := c.Ping()
				if err != nil {
					return err
				}
				stats, err := c.Stats()
				if err != nil {
					return err
				}
				sessions, err := c.ListSessions()
				if err != nil {
					return err
				}

				combined := struct {
					Ping     *protocol.PingResult  `json:"ping" yaml:"ping"`
					Stats    *protocol.StatsResult `json:"stats" yaml:"stats"`
					Sessions []protocol.Session    `json:"sessions" yaml:"sessions"`
				}{ping, stats, sessions}

				return emit(combined, func() string {
					var b strings.Builder
					fmt.Fprintf(&b, "trld %s, up %ds\n\n", ping.Version, ping.UptimeS)
					b.WriteString(formatStats(stats))
					b.WriteString("\n\n")
					b.WriteString(formatSessionTable(sessions))
					return b.String()
				})
			})
		},
	}
}

func formatStats(res *protocol.StatsResult) string {
	return fmt.Sprintf("sessions:  %d\ncommands:  %d\nuptime:    %ds\nrss:       %.1f MiB\nopen fds:  %d",
		res.ActiveSessions, res.TotalCommandsRun, res.UptimeS,
		float64(res.MemoryRSSBytes)/(1024*1024), res.OpenFDs)
}

func formatSessionTable(sessions []protocol.Session) string {
	if len(sessions) == 0 {
		return "no sessions"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-10s %-12s %-8s %s\n", "SESSION", "STATE", "SHELL", "COMMANDS", "LAST ACTIVITY")
	for _, s := range sessions {
		fmt.Fprintf(&b, "%-12s %-10s %-12s %-8d %s\n",
			s.SessionID, s.State, s.Shell, s.CommandCount,
			s.LastActivity.Local().Format("2006-01-02 15:04:05"))
	}
	return strings.TrimRight(b.String(), "\n")
}
