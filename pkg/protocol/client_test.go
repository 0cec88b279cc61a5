package protocol

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"sync"
	"testing"
)

func TestEnvelopes(t *testing.T) {
	ok := OK("r1", PingResult{UptimeS: 5, Version: "test"})
	body, err := json.Marshal(ok)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"r1","ok":true,"data":{"uptime_s":5,"version":"test"}}`
	if string(body) != want {
		t.Errorf("OK envelope = %s, want %s", body, want)
	}

	fail := Err("r2", CodeSessionBusy, "session is already running")
	body, err = json.Marshal(fail)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want = `{"id":"r2","ok":false,"error":{"code":"SESSION_BUSY","message":"session is already running"}}`
	if string(body) != want {
		t.Errorf("Err envelope = %s, want %s", body, want)
	}
}

func TestErrorString(t *testing.T) {
	e := &Error{Code: CodeCommandTimeout, Message: "command timed out"}
	if got := e.Error(); got != "COMMAND_TIMEOUT: command timed out" {
		t.Errorf("Error() = %q", got)
	}
}

// scriptedServer answers each request line with the response produced by
// respond, echoing the request id.
func scriptedServer(t *testing.T, respond func(req Request) Response) string {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "scripted.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					var req Request
					if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
						return
					}
					body, _ := json.Marshal(respond(req))
					conn.Write(append(body, '\n'))
				}
			}(conn)
		}
	}()
	return socketPath
}

func TestClientRoundTrip(t *testing.T) {
	socketPath := scriptedServer(t, func(req Request) Response {
		if req.Method != "system.ping" {
			t.Errorf("method = %q, want system.ping", req.Method)
		}
		return OK(req.ID, PingResult{UptimeS: 42, Version: "1.0"})
	})

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	res, err := c.Ping()
	if err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if res.UptimeS != 42 || res.Version != "1.0" {
		t.Errorf("Ping = %+v, want uptime 42, version 1.0", res)
	}
}

func TestClientSequentialIDs(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	socketPath := scriptedServer(t, func(req Request) Response {
		mu.Lock()
		ids = append(ids, req.ID)
		mu.Unlock()
		return OK(req.ID, PingResult{})
	})

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.Ping(); err != nil {
			t.Fatalf("Ping %d failed: %v", i, err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	want := []string{"req-1", "req-2", "req-3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("request id[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestClientErrorResponse(t *testing.T) {
	socketPath := scriptedServer(t, func(req Request) Response {
		return Err(req.ID, CodeSessionNotFound, "session not found")
	})

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	_, err = c.SessionInfo("s-deadbeef")
	if err == nil {
		t.Fatal("SessionInfo succeeded, want error")
	}
	rpcErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if rpcErr.Code != CodeSessionNotFound {
		t.Errorf("code = %q, want SESSION_NOT_FOUND", rpcErr.Code)
	}
}

func TestClientIDMismatch(t *testing.T) {
	socketPath := scriptedServer(t, func(req Request) Response {
		return OK("wrong-id", PingResult{})
	})

	c, err := Dial(socketPath)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer c.Close()

	if _, err := c.Ping(); err == nil {
		t.Fatal("Ping succeeded despite mismatched response id")
	}
}

func TestDialMissingSocket(t *testing.T) {
	if _, err := Dial(filepath.Join(t.TempDir(), "absent.sock")); err == nil {
		t.Fatal("Dial succeeded on a missing socket")
	}
}
