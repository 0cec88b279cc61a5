// Package session owns the daemon's shell sessions: the per-session record,
// its lifecycle state machine, and the pool that enforces capacity and state
// transitions.
package session

import (
	"sort"
	"time"
)

// State is a session lifecycle state.
type State string

// StateCreating and StateTerminated are transient: a session enters the pool
// already Idle and leaves it by removal, so neither is ever observable in a
// pool snapshot.
const (
	StateCreating   State = "creating"
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
)

// Session is one persistent shell context. Instances handed out by the pool
// are copies; all mutation goes through the pool.
type Session struct {
	SessionID    string            `json:"session_id"`
	Name         string            `json:"name,omitempty"`
	Shell        string            `json:"shell"`
	WorkingDir   string            `json:"working_dir"`
	Env          map[string]string `json:"env"`
	State        State             `json:"state"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	CommandCount int64             `json:"command_count"`
	TimeoutS     int64             `json:"timeout_s"`
}

// IdleTooLong reports whether the session has sat Idle for at least
// maxIdleSec. Sessions in any other state are never idle.
func (s *Session) IdleTooLong(maxIdleSec int64, now time.Time) bool {
	if s.State != StateIdle {
		return false
	}
	return int64(now.Sub(s.LastActivity)/time.Second) >= maxIdleSec
}

// ExceededTTL reports whether the session's age has reached ttlSec.
func (s *Session) ExceededTTL(ttlSec int64, now time.Time) bool {
	return int64(now.Sub(s.CreatedAt)/time.Second) >= ttlSec
}

// ExceededMaxCommands reports whether the session has already run
// maxCommands commands.
func (s *Session) ExceededMaxCommands(maxCommands int64) bool {
	return s.CommandCount >= maxCommands
}

// EnvKeys returns the names of the session environment variables, sorted.
func (s *Session) EnvKeys() []string {
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// clone returns a copy whose env map is not shared with the original.
func (s *Session) clone() *Session {
	dup := *s
	dup.Env = make(map[string]string, len(s.Env))
	for k, v := range s.Env {
		dup.Env[k] = v
	}
	return &dup
}
