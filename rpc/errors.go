package rpc

import (
	"errors"
	"fmt"
)

// Sentinel errors for the RPC client.
var (
	// ErrTimeout is returned by Call when no response arrives within the
	// configured window. The client remains usable afterwards.
	ErrTimeout = errors.New("rpc: call timed out")
	// ErrCancelled is the terminal error delivered to every pending call
	// when the client is closed or the transport dies.
	ErrCancelled = errors.New("rpc: call cancelled")
	// ErrNotStarted is returned when Call or Notify is used before Start
	// completed the initialization handshake.
	ErrNotStarted = errors.New("rpc: client not started")
	// ErrClosed is returned when the client has been disposed.
	ErrClosed = errors.New("rpc: client closed")
)

// RemoteError is a failure reported by the subprocess in a response's error
// object. It is surfaced verbatim to callers.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: remote error %d: %s", e.Code, e.Message)
}

// ProtocolError describes a malformed inbound frame. Frames that fail to
// decode are logged and skipped, never fatal, so the error only appears in
// observability events.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rpc: malformed frame: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
