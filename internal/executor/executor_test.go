package executor

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// readPidFile parses the pid a test shell wrote for us.
func readPidFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func testRunner() *Buffered {
	return NewBuffered(4*1024*1024, Limits{
		CPUSeconds:   300,
		MemoryBytes:  512 * 1024 * 1024,
		MaxProcesses: 64,
	})
}

func shInput(command string) Input {
	return Input{
		Shell:      "/bin/sh",
		Command:    command,
		WorkingDir: "/tmp",
		Env:        map[string]string{"PATH": "/usr/bin:/bin"},
	}
}

func TestRunEcho(t *testing.T) {
	res, err := testRunner().Run(context.Background(), shInput("echo hello"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello\n")
	}
	if res.Stderr != "" {
		t.Errorf("Stderr = %q, want empty", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("TimedOut = true, want false")
	}
}

func TestRunStderrAndExitCode(t *testing.T) {
	res, err := testRunner().Run(context.Background(), shInput("echo oops >&2; exit 3"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stderr != "oops\n" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "oops\n")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestRunStdin(t *testing.T) {
	input := shInput("cat")
	input.Stdin = "fed via stdin"
	res, err := testRunner().Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stdout != "fed via stdin" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "fed via stdin")
	}
}

func TestRunWorkingDir(t *testing.T) {
	dir := t.TempDir()
	input := shInput("pwd")
	input.WorkingDir = dir
	res, err := testRunner().Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := strings.TrimSpace(res.Stdout); got != dir {
		// Symlinked temp dirs (macOS /var → /private/var) still end the same.
		if !strings.HasSuffix(got, dir) {
			t.Errorf("pwd = %q, want %q", got, dir)
		}
	}
}

func TestRunEnv(t *testing.T) {
	input := shInput("echo $TRL_TEST_VALUE")
	input.Env["TRL_TEST_VALUE"] = "from-env"
	res, err := testRunner().Run(context.Background(), input)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stdout != "from-env\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "from-env\n")
	}
}

func TestRunSignaledExitCode(t *testing.T) {
	res, err := testRunner().Run(context.Background(), shInput("kill -TERM $$"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for signaled child", res.ExitCode)
	}
}

func TestRunTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps")
	}

	input := shInput("sleep 30")
	input.TimeoutS = 1

	start := time.Now()
	_, err := testRunner().Run(context.Background(), input)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run error = %v, want ErrTimeout", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("timeout took %v, want under 3s", elapsed)
	}
}

// TestRunTimeoutKillsDescendants checks that the whole process group dies,
// not just the direct shell child.
func TestRunTimeoutKillsDescendants(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps")
	}

	// The background sleep prints its own pid so we can probe it after.
	input := shInput("sleep 30 & echo $! > pidfile; wait")
	input.WorkingDir = t.TempDir()
	input.TimeoutS = 1

	_, err := testRunner().Run(context.Background(), input)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Run error = %v, want ErrTimeout", err)
	}

	data, readErr := readPidFile(input.WorkingDir + "/pidfile")
	if readErr != nil {
		t.Fatalf("read pidfile: %v", readErr)
	}

	// Give the kernel a moment to tear the group down.
	time.Sleep(500 * time.Millisecond)
	if syscall.Kill(data, 0) == nil {
		t.Errorf("background sleep pid %d still alive after timeout", data)
	}
}

func TestRunContextCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	_, err := testRunner().Run(ctx, shInput("sleep 30"))
	if err == nil {
		t.Fatal("Run succeeded, want cancellation error")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestRunBadShell(t *testing.T) {
	input := shInput("echo hi")
	input.Shell = "/no/such/shell"
	if _, err := testRunner().Run(context.Background(), input); err == nil {
		t.Fatal("Run succeeded with a missing shell")
	}
}

func TestOutputCap(t *testing.T) {
	runner := NewBuffered(10, Limits{CPUSeconds: 300, MemoryBytes: 512 * 1024 * 1024, MaxProcesses: 64})
	res, err := runner.Run(context.Background(), shInput("printf 0123456789abcdef; printf fedcba9876543210 >&2"))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stdout != "0123456789" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "0123456789")
	}
	if res.Stderr != "fedcba9876" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "fedcba9876")
	}
}

func TestCapOutput(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		max  int
		want string
	}{
		{"under cap", []byte("short"), 100, "short"},
		{"exact cap", []byte("12345"), 5, "12345"},
		{"over cap", []byte("1234567890"), 4, "1234"},
		{"rune boundary", []byte("aé"), 2, "a"},
		{"invalid utf8", []byte{'o', 'k', 0xff}, 100, "ok�"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := capOutput(tt.in, tt.max); got != tt.want {
				t.Errorf("capOutput(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
		})
	}
}

func TestEnvironSlice(t *testing.T) {
	out := environSlice(map[string]string{"A": "1", "B": "two"})
	if len(out) != 2 {
		t.Fatalf("environSlice returned %d entries, want 2", len(out))
	}
	seen := map[string]bool{}
	for _, kv := range out {
		seen[kv] = true
	}
	if !seen["A=1"] || !seen["B=two"] {
		t.Errorf("environSlice = %v, want A=1 and B=two", out)
	}
}
