package bridge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/subprocess"
)

// terminateGrace is how long Stop waits after SIGTERM before killing.
const terminateGrace = time.Second

// Bridge hosts a protocol session in a worker process and forwards calls
// to it.
//
// Calls are serialized: a second caller blocks until the first response
// arrives or the first call gives up. The worker's stderr is relayed line
// by line to BridgeOptions.LogSink.
type Bridge struct {
	log     *slog.Logger
	opts    config.BridgeOptions
	process *subprocess.Process

	callMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan callResult

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error
	done     chan struct{}

	stopping atomic.Bool
	cancel   context.CancelFunc
	group    *errgroup.Group

	stopOnce sync.Once
	stopErr  error
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Start spawns the worker and starts routing its responses.
//
// The worker outlives ctx; ctx only bounds discovery and spawning. Stop
// must be called to release the worker.
func Start(ctx context.Context, opts *config.BridgeOptions) (*Bridge, error) {
	if opts == nil {
		opts = &config.BridgeOptions{}
	}

	o := opts.WithDefaults()

	log := o.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	process := subprocess.New(log, &o)
	if err := process.Start(ctx); err != nil {
		return nil, err
	}

	b := &Bridge{
		log:     log.With("component", "bridge"),
		opts:    o,
		process: process,
		pending: make(map[string]chan callResult, 1),
		done:    make(chan struct{}),
	}

	routeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel

	messages, errs := process.ReadMessages(routeCtx)

	b.group = new(errgroup.Group)
	b.group.Go(func() error {
		b.route(messages, errs)

		return nil
	})

	b.log.Info("Bridge started", "pid", process.Pid())

	return b, nil
}

// route delivers worker responses to waiting calls until the worker's
// output ends, then fails every pending call.
func (b *Bridge) route(messages <-chan []byte, errs <-chan error) {
	defer b.log.Debug("Bridge router stopped")

	for messages != nil || errs != nil {
		select {
		case line, ok := <-messages:
			if !ok {
				messages = nil

				continue
			}

			b.deliver(line)

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			if err != nil {
				b.log.Error("Worker failed", "error", err)
				b.setFatalError(err)
			}
		}
	}

	<-b.process.Exited()

	closeErr := b.closedErr()

	b.pendingMu.Lock()

	for id, ch := range b.pending {
		ch <- callResult{err: closeErr}

		delete(b.pending, id)
	}

	b.pendingMu.Unlock()

	close(b.done)
}

func (b *Bridge) deliver(line []byte) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		b.log.Warn("Dropping malformed worker response", "error", err)

		return
	}

	// Find and claim pending request atomically
	b.pendingMu.Lock()

	ch, exists := b.pending[resp.ID]
	if exists {
		delete(b.pending, resp.ID)
	}

	b.pendingMu.Unlock()

	if !exists {
		b.log.Debug("Discarding stale worker response", "request_id", resp.ID)

		return
	}

	if resp.Error != nil {
		ch <- callResult{err: resp.Error.Err()}

		return
	}

	ch <- callResult{result: resp.Result}
}

// Call sends req to the worker and waits for its response.
//
// The call is bounded by ctx and CallTimeout; a WaitForRequest gets its own
// timeout on top. Exceeding the bound returns TimeoutError and the late
// response is discarded. If the worker exits, pending calls fail with
// ShutdownError after Stop, or ProcessError otherwise.
func (b *Bridge) Call(ctx context.Context, req Request) (json.RawMessage, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	start := time.Now()
	method := req.Method()

	result, err := b.call(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
	}

	b.opts.Metrics.Call(method, outcome, time.Since(start))

	return result, err
}

func (b *Bridge) call(ctx context.Context, req Request) (json.RawMessage, error) {
	select {
	case <-b.done:
		return nil, b.closedErr()
	default:
	}

	if b.stopping.Load() {
		return nil, &errors.ShutdownError{Op: req.Method()}
	}

	timeout := b.opts.CallTimeout
	if w, ok := req.(*WaitForRequest); ok && w.Timeout > 0 {
		timeout += w.Timeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", req.Method(), err)
	}

	id := ulid.Make().String()

	data, err := json.Marshal(&envelope{ID: id, Method: req.Method(), Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Method(), err)
	}

	ch := make(chan callResult, 1)

	b.pendingMu.Lock()
	b.pending[id] = ch
	b.pendingMu.Unlock()

	b.log.Debug("Sending bridge request", "request_id", id, "method", req.Method())

	if err := b.process.SendMessage(callCtx, data); err != nil {
		b.forget(id)

		if closed := b.closedErr(); closed != nil {
			return nil, closed
		}

		if b.stopping.Load() {
			return nil, &errors.ShutdownError{Op: req.Method()}
		}

		if ctx.Err() == nil && stderrors.Is(err, context.DeadlineExceeded) {
			return nil, &errors.TimeoutError{Op: req.Method(), Timeout: timeout}
		}

		return nil, fmt.Errorf("send %s: %w", req.Method(), err)
	}

	select {
	case res := <-ch:
		return res.result, res.err

	case <-b.done:
		select {
		case res := <-ch:
			return res.result, res.err
		default:
		}

		b.forget(id)

		return nil, b.closedErr()

	case <-callCtx.Done():
		b.forget(id)

		if err := ctx.Err(); err != nil && !stderrors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		b.log.Warn("Bridge request timed out", "request_id", id, "method", req.Method(), "timeout", timeout)

		return nil, &errors.TimeoutError{Op: req.Method(), Timeout: timeout}
	}
}

func (b *Bridge) forget(id string) {
	b.pendingMu.Lock()
	delete(b.pending, id)
	b.pendingMu.Unlock()
}

// Stop shuts the worker down and waits for it.
//
// Stop closes the worker's stdin, waits up to ShutdownGrace for it to exit,
// then sends SIGTERM and finally kills it. Pending calls fail with
// ShutdownError. It's safe to call Stop multiple times.
func (b *Bridge) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.log.Info("Stopping bridge")

		b.stopping.Store(true)

		if err := b.process.CloseStdin(); err != nil {
			b.log.Debug("Closing worker stdin failed", "error", err)
		}

		if !b.waitExit(ctx, b.opts.ShutdownGrace) {
			b.log.Warn("Worker did not exit in time, terminating", "grace", b.opts.ShutdownGrace)

			if err := b.process.Terminate(); err != nil {
				b.log.Debug("Terminating worker failed", "error", err)
			}

			if !b.waitExit(ctx, terminateGrace) {
				b.log.Warn("Worker ignored SIGTERM, killing")

				b.stopErr = b.process.Close()
			}
		}

		// Mark intentional so the exit is not reported as a crash.
		if err := b.process.Close(); err != nil && b.stopErr == nil {
			b.stopErr = err
		}

		b.cancel()
		_ = b.group.Wait()

		b.log.Info("Bridge stopped")
	})

	return b.stopErr
}

// waitExit reports whether the worker exited within d.
func (b *Bridge) waitExit(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-b.process.Exited():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Done returns a channel that is closed once the worker has exited and all
// pending calls have been failed.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Err returns the worker failure, if the worker exited abnormally.
func (b *Bridge) Err() error {
	b.errMu.RLock()
	defer b.errMu.RUnlock()

	return b.fatalErr
}

// Pid returns the worker's process ID.
func (b *Bridge) Pid() int {
	return b.process.Pid()
}

func (b *Bridge) setFatalError(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()

	if b.fatalErr == nil {
		b.fatalErr = err
	}
}

// closedErr returns the error for calls made after the worker is gone:
// ShutdownError after Stop, the worker failure, or ProcessError when the
// worker exited cleanly on its own. Returns nil while the worker runs.
func (b *Bridge) closedErr() error {
	select {
	case <-b.process.Exited():
	default:
		return nil
	}

	if b.stopping.Load() {
		return &errors.ShutdownError{Op: "bridge call"}
	}

	if err := b.Err(); err != nil {
		return err
	}

	return &errors.ProcessError{ExitCode: 0, Stderr: "worker exited unexpectedly"}
}

func outcomeOf(err error) string {
	var exsiErr errors.ExsiError
	if stderrors.As(err, &exsiErr) {
		return string(describeError(err).Kind)
	}

	if stderrors.Is(err, context.Canceled) {
		return "canceled"
	}

	return "error"
}
