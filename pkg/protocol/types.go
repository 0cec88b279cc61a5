package protocol

import "time"

// Session lifecycle states as they appear on the wire.
const (
	StateCreating   = "creating"
	StateIdle       = "idle"
	StateRunning    = "running"
	StateTerminated = "terminated"
)

// PingResult is the payload of system.ping.
type PingResult struct {
	UptimeS int64  `json:"uptime_s"`
	Version string `json:"version"`
}

// StatsResult is the payload of system.stats.
type StatsResult struct {
	ActiveSessions   int   `json:"active_sessions"`
	TotalCommandsRun int64 `json:"total_commands_run"`
	UptimeS          int64 `json:"uptime_s"`
	MemoryRSSBytes   int64 `json:"memory_rss_bytes"`
	OpenFDs          int   `json:"open_fds"`
}

// CreateSessionParams are the arguments of session.create. All fields are
// optional; the daemon fills in /bin/sh, /tmp, an empty environment and the
// configured default timeout.
type CreateSessionParams struct {
	Shell      string            `json:"shell,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	Name       string            `json:"name,omitempty"`
	TimeoutS   *int64            `json:"timeout_s,omitempty"`
}

// CreateSessionResult is the payload of a successful session.create.
type CreateSessionResult struct {
	SessionID  string    `json:"session_id"`
	Shell      string    `json:"shell"`
	WorkingDir string    `json:"working_dir"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// Session is one record in the session.list payload.
type Session struct {
	SessionID    string            `json:"session_id"`
	Name         string            `json:"name,omitempty"`
	Shell        string            `json:"shell"`
	WorkingDir   string            `json:"working_dir"`
	Env          map[string]string `json:"env"`
	State        string            `json:"state"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	CommandCount int64             `json:"command_count"`
	TimeoutS     int64             `json:"timeout_s"`
}

// ListSessionsResult is the payload of session.list.
type ListSessionsResult struct {
	Sessions []Session `json:"sessions"`
}

// SessionIDParams identify a session for session.info.
type SessionIDParams struct {
	SessionID string `json:"session_id"`
}

// SessionInfo is the payload of session.info. The environment is reduced to
// its key names.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name,omitempty"`
	Shell        string    `json:"shell"`
	WorkingDir   string    `json:"working_dir"`
	State        string    `json:"state"`
	EnvKeys      []string  `json:"env_keys"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	CommandCount int64     `json:"command_count"`
	TimeoutS     int64     `json:"timeout_s"`
}

// DestroySessionParams are the arguments of session.destroy. Force removes a
// session even while a command is running in it.
type DestroySessionParams struct {
	SessionID string `json:"session_id"`
	Force     bool   `json:"force,omitempty"`
}

// DestroySessionResult is the payload of a successful session.destroy.
type DestroySessionResult struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// ExecParams are the arguments of exec.run. TimeoutS overrides the session
// timeout when set; an explicit 0 waits without bound. Env is merged over the
// session environment for this command only.
type ExecParams struct {
	SessionID string            `json:"session_id"`
	Command   string            `json:"command"`
	TimeoutS  *int64            `json:"timeout_s,omitempty"`
	Stdin     string            `json:"stdin,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// ExecResult is the payload of a successful exec.run. Stdout and stderr are
// decoded as UTF-8 with lossy replacement and truncated at the configured
// output cap.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	TimedOut   bool   `json:"timed_out"`
}
