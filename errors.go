package exsi

import "github.com/wagiedev/exsi-sdk-go/internal/errors"

// Re-export error types from internal package

// TransportError indicates the controller connection is dead or unreachable.
type TransportError = errors.TransportError

// HandshakeError indicates the controller rejected or did not answer the
// connect handshake.
type HandshakeError = errors.HandshakeError

// BusyError indicates a command was issued while another awaited its
// acknowledgement.
type BusyError = errors.BusyError

// InvalidTaskError indicates a task index or key outside the task key set.
type InvalidTaskError = errors.InvalidTaskError

// ShutdownError indicates an operation was interrupted by teardown.
type ShutdownError = errors.ShutdownError

// TimeoutError indicates a bounded operation did not finish in time.
type TimeoutError = errors.TimeoutError

// CommandError indicates the controller answered a command with a failure.
type CommandError = errors.CommandError

// ProcessError indicates the worker process exited abnormally.
type ProcessError = errors.ProcessError

// WorkerNotFoundError indicates no worker executable could be located.
type WorkerNotFoundError = errors.WorkerNotFoundError

// ExsiError is the base interface for all SDK errors.
type ExsiError = errors.ExsiError

// Re-export sentinel errors from internal package.
var (
	// ErrSessionClosed indicates the session has been closed.
	ErrSessionClosed = errors.ErrSessionClosed

	// ErrNotConnected indicates the client has not been started.
	ErrNotConnected = errors.ErrNotConnected

	// ErrAlreadyConnected indicates the client is already started.
	ErrAlreadyConnected = errors.ErrAlreadyConnected

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.ErrTransportNotConnected

	// ErrUnknownMethod indicates the worker does not serve a bridge method.
	ErrUnknownMethod = errors.ErrUnknownMethod
)
