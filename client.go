package exsi

import (
	"context"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/client"
)

// Client drives one scanner-controller session.
//
// The session either runs in-process or, with WithIsolation, in a worker
// process reached over stdin/stdout. Both modes expose the same methods and
// return the same typed errors.
//
// Commands are sequential: at most one command awaits acknowledgement at a
// time. Under the default InFlightReject policy a second command fails with
// BusyError; use WaitFor to block until the milestone a later command
// depends on.
//
// Lifecycle: Clients are single-use. After Close(), create a new client with
// NewClient().
//
// Example usage:
//
//	client := exsi.NewClient()
//	defer client.Close()
//
//	err := client.Start(ctx,
//	    exsi.WithConfig(cfg),
//	    exsi.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := client.LoadProtocol(ctx, "BPT_EXSI"); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := client.WaitFor(ctx, exsi.SignalProtocolReady, 30*time.Second)
//	if err != nil || result != exsi.WaitSignaled {
//	    log.Fatalf("protocol not ready: %v %v", result, err)
//	}
type Client interface {
	// Start connects to the controller and performs the handshake.
	// Must be called before any other methods.
	// Returns TransportError if the controller is unreachable,
	// HandshakeError if it rejects the handshake, and WorkerNotFoundError
	// if isolation is enabled and no worker executable can be located.
	Start(ctx context.Context, opts ...Option) error

	// LoadProtocol loads a protocol. The task key set is replaced when the
	// load completes, which also sets SignalProtocolReady.
	LoadProtocol(ctx context.Context, name string) error

	// SelectTask selects the task at index of the current task key set.
	// Returns InvalidTaskError when index is out of range.
	SelectTask(ctx context.Context, index int) error

	// SelectTaskKey selects a task by key.
	// Returns InvalidTaskError when the key is not in the task key set.
	SelectTaskKey(ctx context.Context, key string) error

	// SelectNextTask advances to the task after the current one.
	SelectNextTask(ctx context.Context) error

	// ActivateTask activates the selected task.
	ActivateTask(ctx context.Context) error

	// PatientTable moves the patient table to the scan position.
	PatientTable(ctx context.Context) error

	// Prescan runs the prescan, automatic when auto is true.
	Prescan(ctx context.Context, auto bool) error

	// Scan starts the acquisition. The command stays in flight until the
	// controller reports the acquisition complete.
	Scan(ctx context.Context) error

	// SetCV sets one control variable.
	SetCV(ctx context.Context, name string, value float64) error

	// SetCenterFrequency sets the center frequency in Hz.
	SetCenterFrequency(ctx context.Context, hz int64) error

	// SetShimValues sets the linear shims.
	SetShimValues(ctx context.Context, x, y, z int) error

	// GetPrescanValues asks the controller to report the prescan values
	// into the exam metadata.
	GetPrescanValues(ctx context.Context) error

	// RequestExamInfo asks the controller for the exam metadata.
	RequestExamInfo(ctx context.Context) error

	// Send writes a raw command. Over isolation only AckImmediate survives;
	// any other rule resolves on the command's reply.
	Send(ctx context.Context, cmd Command) error

	// WaitFor blocks until the named signal is set, timeout elapses, ctx is
	// done or the session closes. A timeout <= 0 waits on ctx alone, bounded
	// by the call timeout when isolated.
	WaitFor(ctx context.Context, name SignalName, timeout time.Duration) (WaitResult, error)

	// TaskKeys returns the task key set of the last completed load.
	TaskKeys(ctx context.Context) ([]string, error)

	// ExamInfo returns the exam metadata reported so far.
	ExamInfo(ctx context.Context) (map[string]string, error)

	// Done is closed when the session ends, by Close or by a failure.
	Done() <-chan struct{}

	// Err returns the failure that ended the session, if any.
	Err() error

	// Close ends the session and stops the worker, if any.
	// After Close(), the client cannot be reused. Safe to call multiple times.
	Close() error
}

// NewClient creates a new client.
//
// Call Start() with options to connect:
//
//	client := exsi.NewClient()
//	err := client.Start(ctx,
//	    exsi.WithConfig(cfg),
//	    exsi.WithIsolation(),
//	)
func NewClient() Client {
	return &clientWrapper{Client: client.New()}
}

// clientWrapper adapts the internal client to the public interface.
type clientWrapper struct {
	*client.Client
}

// Compile-time check that *clientWrapper implements the Client interface.
var _ Client = (*clientWrapper)(nil)

// Start connects to the controller.
func (c *clientWrapper) Start(ctx context.Context, opts ...Option) error {
	return c.Client.Start(ctx, applyOptions(opts))
}
