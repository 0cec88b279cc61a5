package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/termlayer/trl/pkg/protocol"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage daemon sessions",
	}
	cmd.AddCommand(
		newSessionListCmd(),
		newSessionInfoCmd(),
		newSessionCreateCmd(),
		newSessionDestroyCmd(),
	)
	return cmd
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dial(func(c *protocol.Client) error {
				sessions, err := c.ListSessions()
				if err != nil {
					return err
				}
				return emit(sessions, func() string { return formatSessionTable(sessions) })
			})
		},
	}
}

func newSessionInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <session-id>",
		Short: "Show one session's full record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dial(func(c *protocol.Client) error {
				info, err := c.SessionInfo(args[0])
				if err != nil {
					return err
				}
				return emit(info, func() string {
					var b strings.Builder
					fmt.Fprintf(&b, "session:       %s\n", info.SessionID)
					if info.Name != "" {
						fmt.Fprintf(&b, "name:          %s\n", info.Name)
					}
					fmt.Fprintf(&b, "state:         %s\n", info.State)
					fmt.Fprintf(&b, "shell:         %s\n", info.Shell)
					fmt.Fprintf(&b, "working dir:   %s\n", info.WorkingDir)
					fmt.Fprintf(&b, "env keys:      %s\n", strings.Join(info.EnvKeys, ", "))
					fmt.Fprintf(&b, "created:       %s\n", info.CreatedAt.Local().Format("2006-01-02 15:04:05"))
					fmt.Fprintf(&b, "last activity: %s\n", info.LastActivity.Local().Format("2006-01-02 15:04:05"))
					fmt.Fprintf(&b, "commands:      %d\n", info.CommandCount)
					fmt.Fprintf(&b, "timeout:       %ds", info.TimeoutS)
					return b.String()
				})
			})
		},
	}
}

func newSessionCreateCmd() *cobra.Command {
	var (
		shell    string
		cwd      string
		name     string
		env      []string
		timeoutS int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envMap, err := parseEnvPairs(env)
			if err != nil {
				return err
			}
			params := protocol.CreateSessionParams{
				Shell:      shell,
				WorkingDir: cwd,
				Name:       name,
				Env:        envMap,
			}
			if cmd.Flags().Changed("timeout") {
				params.TimeoutS = &timeoutS
			}
			return dial(func(c *protocol.Client) error {
				res, err := c.CreateSession(params)
				if err != nil {
					return err
				}
				return emit(res, func() string {
					return fmt.Sprintf("created %s (%s in %s)", res.SessionID, res.Shell, res.WorkingDir)
				})
			})
		},
	}
	cmd.Flags().StringVar(&shell, "shell", "", "Shell to run (default /bin/sh)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory (default /tmp)")
	cmd.Flags().StringVar(&name, "name", "", "Optional session name")
	cmd.Flags().StringArrayVar(&env, "env", nil, "Session environment as KEY=VALUE (repeatable)")
	cmd.Flags().Int64Var(&timeoutS, "timeout", 0, "Default per-command timeout in seconds")
	return cmd
}

func newSessionDestroyCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "destroy <session-id>",
		Short: "Destroy a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dial(func(c *protocol.Client) error {
				res, err := c.DestroySession(args[0], force)
				if err != nil {
					return err
				}
				return emit(res, func() string {
					return fmt.Sprintf("destroyed %s", res.SessionID)
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Destroy even while a command is running")
	return cmd
}

// parseEnvPairs converts KEY=VALUE strings into a map.
func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		i := strings.IndexByte(pair, '=')
		if i <= 0 {
			return nil, fmt.Errorf("invalid env pair %q, want KEY=VALUE", pair)
		}
		env[pair[:i]] = pair[i+1:]
	}
	return env, nil
}
