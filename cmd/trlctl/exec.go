package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/termlayer/trl/pkg/protocol"
)

// signalExitCode is returned when the remote command was killed by a signal
// or timed out; the real exit code is unknowable in either case.
const signalExitCode = 255

func newExecCmd() *cobra.Command {
	var (
		shell    string
		cwd      string
		env      []string
		timeoutS int64
		stdin    string
	)
	cmd := &cobra.Command{
		Use:   "exec -- <command...>",
		Short: "Run one command in a throwaway session",
		Long:  "exec creates a session, runs the command, prints its output and destroys the session.\nThe exit code is the command's own; 255 when it was killed or timed out.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envMap, err := parseEnvPairs(env)
			if err != nil {
				return err
			}

			create := protocol.CreateSessionParams{
				Shell:      shell,
				WorkingDir: cwd,
				Env:        envMap,
			}
			exec := protocol.ExecParams{
				Command: strings.Join(args, " "),
				Stdin:   stdin,
			}
			if cmd.Flags().Changed("timeout") {
				exec.TimeoutS = &timeoutS
			}

			return dial(func(c *protocol.Client) error {
				sess, err := c.CreateSession(create)
				if err != nil {
					return err
				}
				defer c.DestroySession(sess.SessionID, true)

				exec.SessionID = sess.SessionID
				res, err := c.Exec(exec)
				if err != nil {
					var rpcErr *protocol.Error
					if errors.As(err, &rpcErr) && rpcErr.Code == protocol.CodeCommandTimeout {
						fmt.Fprintln(os.Stderr, "trlctl: command timed out")
						return &exitCodeError{code: signalExitCode}
					}
					return err
				}

				os.Stdout.WriteString(res.Stdout)
				os.Stderr.WriteString(res.Stderr)
				if res.ExitCode == 0 {
					return nil
				}
				code := res.ExitCode
				if code < 0 {
					code = signalExitCode
				}
				return &exitCodeError{code: code}
			})
		},
	}
	cmd.Flags().StringVar(&shell, "shell", "", "Shell to run (default /bin/sh)")
	cmd.Flags().StringVar(&cwd, "cwd", "", "Working directory (default /tmp)")
	cmd.Flags().StringArrayVar(&env, "env", nil, "Extra environment as KEY=VALUE (repeatable)")
	cmd.Flags().Int64Var(&timeoutS, "timeout", 0, "Command timeout in seconds (0 waits forever)")
	cmd.Flags().StringVar(&stdin, "stdin", "", "Data fed to the command's standard input")
	return cmd
}
