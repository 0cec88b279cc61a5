package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"github.com/termlayer/trl/internal/config"
	"github.com/termlayer/trl/internal/executor"
	"github.com/termlayer/trl/internal/logging"
	"github.com/termlayer/trl/internal/session"
	"github.com/termlayer/trl/internal/stats"
	"github.com/termlayer/trl/pkg/protocol"
)

// Dispatcher routes parsed requests to their handlers. It holds the only
// references the request path needs; nothing here is connection-specific.
type Dispatcher struct {
	cfg     *config.Config
	pool    *session.Pool
	runner  executor.Runner
	stats   *stats.Runtime
	version string
}

// NewDispatcher wires the request path together.
func NewDispatcher(cfg *config.Config, pool *session.Pool, runner executor.Runner, st *stats.Runtime, version string) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		pool:    pool,
		runner:  runner,
		stats:   st,
		version: version,
	}
}

// Dispatch answers exactly one request. Every failure becomes an error
// envelope; nothing here terminates the connection.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.Request) protocol.Response {
	switch req.Method {
	case "system.ping":
		return d.ping(req)
	case "system.stats":
		return d.systemStats(req)
	case "session.create":
		return d.createSession(req)
	case "session.list":
		return d.listSessions(req)
	case "session.info":
		return d.sessionInfo(req)
	case "session.destroy":
		return d.destroySession(req)
	case "exec.run":
		return d.execRun(ctx, req)
	default:
		return protocol.Err(req.ID, protocol.CodeInvalidParams, "unsupported method")
	}
}

func (d *Dispatcher) ping(req *protocol.Request) protocol.Response {
	return protocol.OK(req.ID, protocol.PingResult{
		UptimeS: d.stats.UptimeS(),
		Version: d.version,
	})
}

func (d *Dispatcher) systemStats(req *protocol.Request) protocol.Response {
	return protocol.OK(req.ID, protocol.StatsResult{
		ActiveSessions:   d.pool.Active(),
		TotalCommandsRun: d.stats.TotalCommands(),
		UptimeS:          d.stats.UptimeS(),
		MemoryRSSBytes:   d.stats.MemoryRSSBytes(),
		OpenFDs:          d.stats.OpenFDs(),
	})
}

func (d *Dispatcher) createSession(req *protocol.Request) protocol.Response {
	var params protocol.CreateSessionParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.Errf(req.ID, protocol.CodeInvalidParams, "invalid params: %v", err)
	}

	// FD pressure gates new sessions before the pool is consulted; every
	// session costs descriptors for the lifetime of its commands.
	openFDs := d.stats.OpenFDs()
	if openFDs > d.cfg.FDWarningThreshold() {
		logging.Warn("rejecting session.create under fd pressure",
			logging.Int("open_fds", openFDs),
			logging.Int("threshold", d.cfg.FDWarningThreshold()))
		return protocol.Errf(req.ID, protocol.CodeResourcePressure,
			"system under resource pressure (open FDs: %d); close idle sessions or reduce load", openFDs)
	}

	input := session.CreateInput{
		Shell:      params.Shell,
		WorkingDir: params.WorkingDir,
		Env:        params.Env,
		Name:       params.Name,
		TimeoutS:   d.cfg.DefaultTimeoutS(),
	}
	if input.Shell == "" {
		input.Shell = "/bin/sh"
	}
	if input.WorkingDir == "" {
		input.WorkingDir = "/tmp"
	}
	if params.TimeoutS != nil {
		input.TimeoutS = *params.TimeoutS
	}

	sess, err := d.pool.Create(input)
	if err != nil {
		return poolError(req.ID, err)
	}

	logging.Info("session created",
		logging.String("session_id", sess.SessionID),
		logging.String("shell", sess.Shell),
		logging.String("working_dir", sess.WorkingDir))

	return protocol.OK(req.ID, protocol.CreateSessionResult{
		SessionID:  sess.SessionID,
		Shell:      sess.Shell,
		WorkingDir: sess.WorkingDir,
		State:      string(sess.State),
		CreatedAt:  sess.CreatedAt,
	})
}

func (d *Dispatcher) listSessions(req *protocol.Request) protocol.Response {
	snapshot := d.pool.List()
	sessions := make([]protocol.Session, 0, len(snapshot))
	for _, sess := range snapshot {
		sessions = append(sessions, sessionRecord(sess))
	}
	return protocol.OK(req.ID, protocol.ListSessionsResult{Sessions: sessions})
}

func (d *Dispatcher) sessionInfo(req *protocol.Request) protocol.Response {
	var params protocol.SessionIDParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.Errf(req.ID, protocol.CodeInvalidParams, "invalid params: %v", err)
	}
	if params.SessionID == "" {
		return protocol.Err(req.ID, protocol.CodeInvalidParams, "session_id is required")
	}

	sess, ok := d.pool.Get(params.SessionID)
	if !ok {
		return protocol.Err(req.ID, protocol.CodeSessionNotFound, "session not found")
	}

	return protocol.OK(req.ID, protocol.SessionInfo{
		SessionID:    sess.SessionID,
		Name:         sess.Name,
		Shell:        sess.Shell,
		WorkingDir:   sess.WorkingDir,
		State:        string(sess.State),
		EnvKeys:      sess.EnvKeys(),
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		CommandCount: sess.CommandCount,
		TimeoutS:     sess.TimeoutS,
	})
}

func (d *Dispatcher) destroySession(req *protocol.Request) protocol.Response {
	var params protocol.DestroySessionParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.Errf(req.ID, protocol.CodeInvalidParams, "invalid params: %v", err)
	}
	if params.SessionID == "" {
		return protocol.Err(req.ID, protocol.CodeInvalidParams, "session_id is required")
	}

	if err := d.pool.Destroy(params.SessionID, params.Force); err != nil {
		return poolError(req.ID, err)
	}

	logging.Info("session destroyed",
		logging.String("session_id", params.SessionID),
		logging.Any("force", params.Force))

	return protocol.OK(req.ID, protocol.DestroySessionResult{
		SessionID: params.SessionID,
		State:     protocol.StateTerminated,
	})
}

func (d *Dispatcher) execRun(ctx context.Context, req *protocol.Request) protocol.Response {
	var params protocol.ExecParams
	if err := decodeParams(req, &params); err != nil {
		return protocol.Errf(req.ID, protocol.CodeInvalidParams, "invalid params: %v", err)
	}
	if params.SessionID == "" {
		return protocol.Err(req.ID, protocol.CodeInvalidParams, "session_id is required")
	}
	if params.Command == "" {
		return protocol.Err(req.ID, protocol.CodeInvalidParams, "command is required")
	}

	snapshot, ok := d.pool.Get(params.SessionID)
	if !ok {
		return protocol.Err(req.ID, protocol.CodeSessionNotFound, "session not found")
	}
	if snapshot.ExceededMaxCommands(d.cfg.SessionMaxCommands()) {
		return protocol.Errf(req.ID, protocol.CodeSessionLimitExceeded,
			"session has exceeded max commands (%d); create a new session", d.cfg.SessionMaxCommands())
	}

	// Admission is atomic with the Idle → Running transition: of two
	// concurrent exec.run calls on one session, exactly one passes.
	admitted, err := d.pool.Admit(params.SessionID)
	if err != nil {
		return poolError(req.ID, err)
	}

	input := executor.Input{
		Shell:      admitted.Shell,
		Command:    params.Command,
		WorkingDir: admitted.WorkingDir,
		Env:        mergeEnv(d.cfg.RuntimeEnv(), admitted.Env, params.Env),
		Stdin:      params.Stdin,
		TimeoutS:   resolveTimeoutS(params.TimeoutS, admitted.TimeoutS, params.Command),
	}

	result, runErr := d.runner.Run(ctx, input)

	// The admission above must be released no matter how the command ended.
	if err := d.pool.MarkIdle(params.SessionID); err != nil {
		logging.Warn("failed to mark session idle",
			logging.String("session_id", params.SessionID),
			logging.Err(err))
	}

	if runErr != nil {
		if errors.Is(runErr, executor.ErrTimeout) {
			logging.Warn("command timed out",
				logging.String("session_id", params.SessionID),
				logging.Int64("timeout_s", input.TimeoutS))
			return protocol.Err(req.ID, protocol.CodeCommandTimeout, "command timed out")
		}
		return protocol.Err(req.ID, protocol.CodeInternalError, runErr.Error())
	}

	d.stats.IncCommands()
	logging.Info("command completed",
		logging.String("session_id", params.SessionID),
		logging.Int("exit_code", result.ExitCode),
		logging.Int64("duration_ms", result.DurationMS))
	return protocol.OK(req.ID, protocol.ExecResult{
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		ExitCode:   result.ExitCode,
		DurationMS: result.DurationMS,
		TimedOut:   result.TimedOut,
	})
}

// decodeParams unmarshals the request params, treating a missing params
// field as an empty object.
func decodeParams(req *protocol.Request, out any) error {
	raw := req.Params
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return json.Unmarshal(raw, out)
}

// poolError maps session pool failures onto wire error codes.
func poolError(id string, err error) protocol.Response {
	var shellErr *session.InvalidShellError
	var dirErr *session.InvalidWorkingDirError
	switch {
	case errors.Is(err, session.ErrMaxSessions):
		return protocol.Err(id, protocol.CodeMaxSessionsReached, err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		return protocol.Err(id, protocol.CodeSessionNotFound, err.Error())
	case errors.Is(err, session.ErrSessionBusy):
		return protocol.Err(id, protocol.CodeSessionBusy, err.Error())
	case errors.As(err, &shellErr), errors.As(err, &dirErr):
		return protocol.Err(id, protocol.CodeInvalidParams, err.Error())
	default:
		return protocol.Err(id, protocol.CodeInternalError, err.Error())
	}
}

// sessionRecord converts a pool snapshot entry into its wire form.
func sessionRecord(sess *session.Session) protocol.Session {
	return protocol.Session{
		SessionID:    sess.SessionID,
		Name:         sess.Name,
		Shell:        sess.Shell,
		WorkingDir:   sess.WorkingDir,
		Env:          sess.Env,
		State:        string(sess.State),
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		CommandCount: sess.CommandCount,
		TimeoutS:     sess.TimeoutS,
	}
}

// resolveTimeoutS picks the effective timeout for one command. An explicit
// override always wins, including 0 for an unbounded wait. Cursor agent
// invocations get at least ten minutes; they routinely outlive ordinary
// shell commands.
func resolveTimeoutS(override *int64, sessionTimeoutS int64, command string) int64 {
	if override != nil {
		return *override
	}
	if looksLikeCursorAgent(command) {
		return max(sessionTimeoutS, 600)
	}
	return sessionTimeoutS
}

func looksLikeCursorAgent(command string) bool {
	normalized := strings.TrimLeftFunc(command, unicode.IsSpace)
	return strings.HasPrefix(normalized, "cursor agent ") ||
		normalized == "cursor agent" ||
		strings.HasPrefix(normalized, "cursor-agent ")
}

// mergeEnv layers maps left to right, later keys overriding earlier ones.
func mergeEnv(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
