// Package executor runs one shell command at a time with buffered output.
// Every child starts in its own session so that a timeout can kill the whole
// process tree, and runs under CPU, address-space and process-count limits.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"
)

// ErrTimeout is returned when the child outlived its deadline and its
// process group was killed.
var ErrTimeout = errors.New("command timed out")

// Limits are the per-child resource ceilings.
type Limits struct {
	CPUSeconds   int64
	MemoryBytes  int64
	MaxProcesses int64
}

// Input describes one command invocation. Env is the fully merged child
// environment; TimeoutS of 0 waits without bound.
type Input struct {
	Shell      string
	Command    string
	WorkingDir string
	Env        map[string]string
	Stdin      string
	TimeoutS   int64
}

// Result is the buffered outcome of one command. ExitCode is -1 when the
// child was killed by a signal.
type Result struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
	TimedOut   bool
}

// Runner executes one buffered command. It never touches the session pool
// and is safe to invoke concurrently for distinct sessions.
type Runner interface {
	Run(ctx context.Context, input Input) (*Result, error)
}

// Buffered is the production Runner.
type Buffered struct {
	maxOutputBytes int
	limits         Limits
}

// NewBuffered creates a Runner that caps each output stream at
// maxOutputBytes and applies limits to every child.
func NewBuffered(maxOutputBytes int, limits Limits) *Buffered {
	return &Buffered{
		maxOutputBytes: maxOutputBytes,
		limits:         limits,
	}
}

// Run spawns `shell -c command`, feeds stdin, waits for completion within
// the timeout and returns the capped output. On timeout or context
// cancellation the child's entire process group receives SIGKILL.
func (b *Buffered) Run(ctx context.Context, input Input) (*Result, error) {
	started := time.Now()

	cmd := exec.Command(input.Shell, "-c", input.Command)
	cmd.Dir = input.WorkingDir
	cmd.Env = environSlice(input.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if input.Stdin != "" {
		cmd.Stdin = strings.NewReader(input.Stdin)
	}

	// New session: the child becomes a process-group leader detached from
	// any controlling terminal, so kill(-pid) reaches all descendants.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", input.Shell, err)
	}
	pid := cmd.Process.Pid

	// The Go runtime cannot run code between fork and exec, so resource
	// limits land right after spawn instead of in a pre-exec hook.
	applyLimits(pid, b.limits)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var expired <-chan time.Time
	if input.TimeoutS > 0 {
		timer := time.NewTimer(time.Duration(input.TimeoutS) * time.Second)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case waitErr := <-done:
		return b.collect(cmd, &stdout, &stderr, started, waitErr)
	case <-expired:
		killGroup(pid)
		return nil, ErrTimeout
	case <-ctx.Done():
		killGroup(pid)
		return nil, fmt.Errorf("command canceled: %w", ctx.Err())
	}
}

// collect builds the Result once the child has been reaped.
func (b *Buffered) collect(cmd *exec.Cmd, stdout, stderr *bytes.Buffer, started time.Time, waitErr error) (*Result, error) {
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait: %w", waitErr)
		}
	}

	return &Result{
		Stdout:     capOutput(stdout.Bytes(), b.maxOutputBytes),
		Stderr:     capOutput(stderr.Bytes(), b.maxOutputBytes),
		ExitCode:   cmd.ProcessState.ExitCode(),
		DurationMS: time.Since(started).Milliseconds(),
		TimedOut:   false,
	}, nil
}

// killGroup SIGKILLs the child's process group. The child is a session
// leader, so its pgid equals its pid.
func killGroup(pid int) {
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

// capOutput decodes bytes as UTF-8 with lossy replacement and truncates the
// text at max bytes without splitting a rune.
func capOutput(b []byte, max int) string {
	text := strings.ToValidUTF8(string(b), string(utf8.RuneError))
	if len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// environSlice flattens an environment map into the form exec.Cmd expects.
func environSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

var _ Runner = (*Buffered)(nil)
