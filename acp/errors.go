package acp

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrConnClosed is returned when a call is attempted on, or interrupted
	// by, a closed connection.
	ErrConnClosed = errors.New("connection is closed")

	// ErrAlreadyRunning is returned when Run is called twice on a connection.
	ErrAlreadyRunning = errors.New("connection read loop already running")

	// ErrNoSession is returned when a prompt is sent before a session exists.
	ErrNoSession = errors.New("no session")
)

// RPCError represents a JSON-RPC error returned by the agent.
type RPCError struct {
	Message string
	Code    int
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ProtocolError represents a protocol-level error (e.g., malformed JSON).
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}
