// Package protocol defines the wire contract of the trl daemon: line-delimited
// JSON envelopes exchanged over a local Unix socket, the stable error codes,
// and a typed client for talking to a running daemon.
package protocol

import (
	"encoding/json"
	"fmt"
)

// DefaultSocketPath is where trld listens unless configured otherwise.
const DefaultSocketPath = "/tmp/trl.sock"

// Stable wire error codes. Clients may match on these; the message text is
// informational only.
const (
	CodeInvalidParams        = "INVALID_PARAMS"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeSessionBusy          = "SESSION_BUSY"
	CodeMaxSessionsReached   = "MAX_SESSIONS_REACHED"
	CodeSessionLimitExceeded = "SESSION_LIMIT_EXCEEDED"
	CodeResourcePressure     = "RESOURCE_PRESSURE"
	CodeCommandTimeout       = "COMMAND_TIMEOUT"
	CodeInternalError        = "INTERNAL_ERROR"
)

// UnknownID is used as the response id when the request line could not be
// parsed and no id is recoverable.
const UnknownID = "unknown"

// Request is one RPC envelope, a single JSON object per line.
// A missing params field is treated as an empty object.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers exactly one Request, correlated by ID.
type Response struct {
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Error carries a stable machine-readable code and a human-readable message.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// OK builds a success response with data marshalled into the envelope.
// If data cannot be marshalled the response degrades to INTERNAL_ERROR.
func OK(id string, data any) Response {
	raw, err := json.Marshal(data)
	if err != nil {
		return Err(id, CodeInternalError, "serialization failed")
	}
	return Response{ID: id, OK: true, Data: raw}
}

// Err builds an error response with the given code and message.
func Err(id, code, message string) Response {
	return Response{ID: id, OK: false, Error: &Error{Code: code, Message: message}}
}

// Errf builds an error response with a formatted message.
func Errf(id, code, format string, args ...any) Response {
	return Err(id, code, fmt.Sprintf(format, args...))
}
