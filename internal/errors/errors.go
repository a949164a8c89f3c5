package errors

import (
	"errors"
	"fmt"
	"time"
)

// ExsiError is the base interface for all SDK errors.
type ExsiError interface {
	error
	IsExsiError() bool
}

// Compile-time verification that all error types implement ExsiError.
var (
	_ ExsiError = (*TransportError)(nil)
	_ ExsiError = (*HandshakeError)(nil)
	_ ExsiError = (*BusyError)(nil)
	_ ExsiError = (*InvalidTaskError)(nil)
	_ ExsiError = (*ShutdownError)(nil)
	_ ExsiError = (*TimeoutError)(nil)
	_ ExsiError = (*CommandError)(nil)
	_ ExsiError = (*ProcessError)(nil)
	_ ExsiError = (*WorkerNotFoundError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrSessionClosed indicates the session has been closed, either by the
	// caller or because the transport failed.
	ErrSessionClosed = errors.New("session closed")

	// ErrNotConnected indicates no session has been established yet.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected indicates a session already exists.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrUnknownMethod indicates a bridge request named a method the worker
	// does not serve.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrUnknownEvent indicates an inbound message could not be classified.
	// Callers should log and drop these rather than treating them as fatal.
	ErrUnknownEvent = errors.New("unknown event")
)

// TransportError indicates the connection to the controller is dead or
// unreachable. It is fatal to the session.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport error: %v", e.Err)
	}

	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsExsiError implements ExsiError.
func (e *TransportError) IsExsiError() bool { return true }

// HandshakeError indicates the controller rejected the connect sequence or
// the sequence did not complete within the handshake window.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake failed: %s: %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("handshake failed: %s", e.Reason)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// IsExsiError implements ExsiError.
func (e *HandshakeError) IsExsiError() bool { return true }

// BusyError indicates a command was issued while another one is still
// awaiting its acknowledgement. The caller may retry.
type BusyError struct {
	Command  string
	InFlight string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("cannot send %s: %s is still awaiting acknowledgement", e.Command, e.InFlight)
}

// IsExsiError implements ExsiError.
func (e *BusyError) IsExsiError() bool { return true }

// InvalidTaskError indicates a task reference that does not resolve against
// the current task key set.
type InvalidTaskError struct {
	Index int
	Key   string
	Count int
}

func (e *InvalidTaskError) Error() string {
	if e.Count == 0 {
		return "invalid task: no protocol tasks loaded"
	}

	if e.Key != "" {
		return fmt.Sprintf("invalid task: key %q not in loaded protocol (%d tasks)", e.Key, e.Count)
	}

	return fmt.Sprintf("invalid task: index %d out of range (%d tasks)", e.Index, e.Count)
}

// IsExsiError implements ExsiError.
func (e *InvalidTaskError) IsExsiError() bool { return true }

// ShutdownError indicates an operation was abandoned because the session or
// bridge is being torn down.
type ShutdownError struct {
	Op string
}

func (e *ShutdownError) Error() string {
	if e.Op == "" {
		return "operation abandoned: shutting down"
	}

	return fmt.Sprintf("%s abandoned: shutting down", e.Op)
}

// IsExsiError implements ExsiError.
func (e *ShutdownError) IsExsiError() bool { return true }

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
	}

	return fmt.Sprintf("%s timed out", e.Op)
}

// IsExsiError implements ExsiError.
func (e *TimeoutError) IsExsiError() bool { return true }

// CommandError indicates the controller answered a command with a failure,
// or that a queued command was aborted because an earlier one failed.
type CommandError struct {
	Command string
	Reply   string
}

func (e *CommandError) Error() string {
	if e.Reply == "" {
		return fmt.Sprintf("command %s failed", e.Command)
	}

	return fmt.Sprintf("command %s failed: %s", e.Command, e.Reply)
}

// IsExsiError implements ExsiError.
func (e *CommandError) IsExsiError() bool { return true }

// ProcessError indicates the bridge worker process exited abnormally.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("worker process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsExsiError implements ExsiError.
func (e *ProcessError) IsExsiError() bool { return true }

// WorkerNotFoundError indicates the bridge worker executable was not found.
type WorkerNotFoundError struct {
	SearchedPaths []string
}

func (e *WorkerNotFoundError) Error() string {
	return fmt.Sprintf("exsi worker executable not found in: %v", e.SearchedPaths)
}

// IsExsiError implements ExsiError.
func (e *WorkerNotFoundError) IsExsiError() bool { return true }
