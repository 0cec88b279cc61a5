// Package server implements the daemon's request path: a Unix socket
// listener framing line-delimited JSON envelopes, and the dispatcher that
// routes each request to the session pool and executor.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/termlayer/trl/internal/logging"
	"github.com/termlayer/trl/pkg/protocol"
)

// maxRequestBytes bounds one request line. Stdin payloads ride inside the
// request envelope, so the ceiling is deliberately generous.
const maxRequestBytes = 16 << 20

// internalErrorEnvelope is written verbatim when a response cannot be
// serialised; it must itself never fail to serialise.
const internalErrorEnvelope = `{"id":"unknown","ok":false,"error":{"code":"INTERNAL_ERROR","message":"serialization failed"}}`

// Server accepts connections on the daemon socket and runs one serial
// request/response loop per connection.
type Server struct {
	socketPath string
	dispatcher *Dispatcher
	conns      sync.WaitGroup
}

// New creates a Server listening at socketPath once Serve is called.
func New(socketPath string, dispatcher *Dispatcher) *Server {
	return &Server{
		socketPath: socketPath,
		dispatcher: dispatcher,
	}
}

// Serve binds the socket and accepts connections until ctx is cancelled.
// A stale socket file is removed before binding; the live one is owner-only
// and removed again on every return path.
func (s *Server) Serve(ctx context.Context) error {
	if _, err := os.Stat(s.socketPath); err == nil {
		if err := os.Remove(s.socketPath); err != nil {
			return fmt.Errorf("remove stale socket %s: %w", s.socketPath, err)
		}
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("restrict socket %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		if _, err := os.Stat(s.socketPath); err == nil {
			_ = os.Remove(s.socketPath)
		}
	}()

	logging.Info("listening", logging.String("socket", s.socketPath))

	// Closing the listener is what unblocks Accept on shutdown.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logging.Info("server shutting down")
				break
			}
			logging.Error("accept error", logging.Err(err))
			continue
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			if err := s.handleConnection(ctx, conn); err != nil {
				logging.Warn("connection error", logging.Err(err))
			}
		}()
	}

	s.conns.Wait()
	return nil
}

// handleConnection reads newline-framed requests and answers each in order.
// Blank lines are skipped; an unparseable line is answered under the id
// "unknown" rather than dropping the connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp protocol.Response
		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = protocol.Errf(protocol.UnknownID, protocol.CodeInvalidParams,
				"invalid JSON request: %v", err)
		} else {
			logging.Info("request",
				logging.String("method", req.Method),
				logging.String("id", req.ID))
			resp = s.dispatcher.Dispatch(ctx, &req)
		}

		if err := writeResponse(conn, resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// writeResponse serialises one envelope and terminates it with a newline.
func writeResponse(w io.Writer, resp protocol.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		body = []byte(internalErrorEnvelope)
	}
	body = append(body, '\n')
	_, err = w.Write(body)
	return err
}
