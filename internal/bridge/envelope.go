package bridge

import (
	"encoding/json"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/errors"
)

// envelope is one request line on the worker's stdin.
type envelope struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is one response line on the worker's stdout. Exactly one of
// Result and Error is set.
type response struct {
	ID     string           `json:"id"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *ErrorDescriptor `json:"error,omitempty"`
}

// ErrorKind classifies a failure carried across the bridge.
type ErrorKind string

const (
	KindTransport        ErrorKind = "transport"
	KindHandshake        ErrorKind = "handshake"
	KindBusy             ErrorKind = "busy"
	KindInvalidTask      ErrorKind = "invalid_task"
	KindShutdown         ErrorKind = "shutdown"
	KindTimeout          ErrorKind = "timeout"
	KindCommand          ErrorKind = "command"
	KindProcess          ErrorKind = "process"
	KindSessionClosed    ErrorKind = "session_closed"
	KindNotConnected     ErrorKind = "not_connected"
	KindAlreadyConnected ErrorKind = "already_connected"
	KindUnknownMethod    ErrorKind = "unknown_method"
	KindInternal         ErrorKind = "internal"
)

// ErrorDescriptor is the serialized form of an error. Detail holds the
// fields needed to rebuild the typed error on the caller side.
type ErrorDescriptor struct {
	Kind    ErrorKind         `json:"kind"`
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// describeError converts err into its serialized form.
func describeError(err error) *ErrorDescriptor {
	d := &ErrorDescriptor{Kind: KindInternal, Message: err.Error()}

	if e, ok := stderrors.AsType[*errors.TransportError](err); ok {
		d.Kind = KindTransport
		d.Detail = map[string]string{"op": e.Op}

		if e.Err != nil {
			d.Detail["cause"] = e.Err.Error()
		}

		return d
	}

	if e, ok := stderrors.AsType[*errors.HandshakeError](err); ok {
		d.Kind = KindHandshake
		d.Detail = map[string]string{"reason": e.Reason}

		if e.Err != nil {
			d.Detail["cause"] = e.Err.Error()
		}

		return d
	}

	if e, ok := stderrors.AsType[*errors.BusyError](err); ok {
		d.Kind = KindBusy
		d.Detail = map[string]string{"command": e.Command, "in_flight": e.InFlight}

		return d
	}

	if e, ok := stderrors.AsType[*errors.InvalidTaskError](err); ok {
		d.Kind = KindInvalidTask
		d.Detail = map[string]string{
			"index": strconv.Itoa(e.Index),
			"key":   e.Key,
			"count": strconv.Itoa(e.Count),
		}

		return d
	}

	if e, ok := stderrors.AsType[*errors.ShutdownError](err); ok {
		d.Kind = KindShutdown
		d.Detail = map[string]string{"op": e.Op}

		return d
	}

	if e, ok := stderrors.AsType[*errors.TimeoutError](err); ok {
		d.Kind = KindTimeout
		d.Detail = map[string]string{"op": e.Op, "timeout": e.Timeout.String()}

		return d
	}

	if e, ok := stderrors.AsType[*errors.CommandError](err); ok {
		d.Kind = KindCommand
		d.Detail = map[string]string{"command": e.Command, "reply": e.Reply}

		return d
	}

	if e, ok := stderrors.AsType[*errors.ProcessError](err); ok {
		d.Kind = KindProcess
		d.Detail = map[string]string{"exit_code": strconv.Itoa(e.ExitCode), "stderr": e.Stderr}

		return d
	}

	switch {
	case stderrors.Is(err, errors.ErrSessionClosed):
		d.Kind = KindSessionClosed
	case stderrors.Is(err, errors.ErrNotConnected):
		d.Kind = KindNotConnected
	case stderrors.Is(err, errors.ErrAlreadyConnected):
		d.Kind = KindAlreadyConnected
	case stderrors.Is(err, errors.ErrUnknownMethod):
		d.Kind = KindUnknownMethod
	}

	return d
}

// Err rebuilds the typed error described by d.
func (d *ErrorDescriptor) Err() error {
	detail := d.Detail

	switch d.Kind {
	case KindTransport:
		return &errors.TransportError{Op: detail["op"], Err: cause(detail)}

	case KindHandshake:
		return &errors.HandshakeError{Reason: detail["reason"], Err: cause(detail)}

	case KindBusy:
		return &errors.BusyError{Command: detail["command"], InFlight: detail["in_flight"]}

	case KindInvalidTask:
		index, _ := strconv.Atoi(detail["index"])
		count, _ := strconv.Atoi(detail["count"])

		return &errors.InvalidTaskError{Index: index, Key: detail["key"], Count: count}

	case KindShutdown:
		return &errors.ShutdownError{Op: detail["op"]}

	case KindTimeout:
		timeout, _ := time.ParseDuration(detail["timeout"])

		return &errors.TimeoutError{Op: detail["op"], Timeout: timeout}

	case KindCommand:
		return &errors.CommandError{Command: detail["command"], Reply: detail["reply"]}

	case KindProcess:
		code, _ := strconv.Atoi(detail["exit_code"])

		return &errors.ProcessError{ExitCode: code, Stderr: detail["stderr"]}

	case KindSessionClosed:
		return wrapSentinel(errors.ErrSessionClosed, d.Message)

	case KindNotConnected:
		return wrapSentinel(errors.ErrNotConnected, d.Message)

	case KindAlreadyConnected:
		return wrapSentinel(errors.ErrAlreadyConnected, d.Message)

	case KindUnknownMethod:
		return wrapSentinel(errors.ErrUnknownMethod, d.Message)

	default:
		return &RemoteError{Message: d.Message}
	}
}

// RemoteError is a worker failure with no typed counterpart.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "worker error: " + e.Message
}

func cause(detail map[string]string) error {
	if msg := detail["cause"]; msg != "" {
		return stderrors.New(msg)
	}

	return nil
}

// wrapSentinel keeps the worker's message while preserving errors.Is.
func wrapSentinel(sentinel error, message string) error {
	if message == "" || message == sentinel.Error() {
		return sentinel
	}

	return &sentinelError{sentinel: sentinel, message: message}
}

type sentinelError struct {
	sentinel error
	message  string
}

func (e *sentinelError) Error() string { return e.message }
func (e *sentinelError) Unwrap() error { return e.sentinel }
