package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
)

// Client is a synchronous connection to a trl daemon. It keeps a single
// request in flight at a time and is safe for sequential reuse, not for
// concurrent use.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	seq  int64
}

// Dial connects to the daemon socket at path.
func Dial(path string) (*Client, error) {
	return DialContext(context.Background(), path)
}

// DialContext connects to the daemon socket at path, honouring ctx for the
// connection attempt.
func DialContext(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call performs one request/response round trip and returns the raw data
// payload. Daemon-reported failures come back as *Error; transport failures
// as plain errors.
func (c *Client) Call(method string, params any) (json.RawMessage, error) {
	c.seq++
	id := fmt.Sprintf("req-%d", c.seq)

	req := Request{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := c.conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	reply, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("response id %q does not match request id %q", resp.ID, id)
	}
	if !resp.OK {
		if resp.Error != nil {
			return nil, resp.Error
		}
		return nil, &Error{Code: CodeInternalError, Message: "error response without error body"}
	}
	return resp.Data, nil
}

func (c *Client) call(method string, params, out any) error {
	data, err := c.Call(method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Ping checks daemon liveness and returns its uptime and version.
func (c *Client) Ping() (*PingResult, error) {
	var res PingResult
	if err := c.call("system.ping", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Stats returns the daemon's runtime statistics.
func (c *Client) Stats() (*StatsResult, error) {
	var res StatsResult
	if err := c.call("system.stats", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateSession allocates a new shell session.
func (c *Client) CreateSession(params CreateSessionParams) (*CreateSessionResult, error) {
	var res CreateSessionResult
	if err := c.call("session.create", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListSessions returns a snapshot of every session in the pool.
func (c *Client) ListSessions() ([]Session, error) {
	var res ListSessionsResult
	if err := c.call("session.list", nil, &res); err != nil {
		return nil, err
	}
	return res.Sessions, nil
}

// SessionInfo returns the full record of one session.
func (c *Client) SessionInfo(sessionID string) (*SessionInfo, error) {
	var res SessionInfo
	if err := c.call("session.info", SessionIDParams{SessionID: sessionID}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DestroySession removes a session. With force set it removes the session
// even while a command is running in it.
func (c *Client) DestroySession(sessionID string, force bool) (*DestroySessionResult, error) {
	var res DestroySessionResult
	params := DestroySessionParams{SessionID: sessionID, Force: force}
	if err := c.call("session.destroy", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Exec runs one command inside a session and returns its buffered output.
func (c *Client) Exec(params ExecParams) (*ExecResult, error) {
	var res ExecResult
	if err := c.call("exec.run", params, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
