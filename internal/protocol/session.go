package protocol

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/metrics"
	"github.com/wagiedev/exsi-sdk-go/internal/transport"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

const (
	// eventBuffer is how many decoded events the reader may post ahead of
	// the session loop.
	eventBuffer = 64
)

// Controller command names.
const (
	cmdConnect          = "ConnectToScanner"
	cmdNotify           = "NotifyEvent"
	cmdLoadProtocol     = "LoadProtocol"
	cmdSelectTask       = "SelectTask"
	cmdActivateTask     = "ActivateTask"
	cmdPatientTable     = "PatientTable"
	cmdPrescan          = "Prescan"
	cmdScan             = "Scan"
	cmdSetCV            = "SetCVs"
	cmdSetCenterFreq    = "SetCenterFrequency"
	cmdSetShimValues    = "SetShimValues"
	cmdGetPrescanValues = "GetPrescanValues"
	cmdGetExamInfo      = "GetExamInfo"
)

// State is an immutable view of session state, published by the session
// loop after every transition. Its slices and maps must not be modified.
type State struct {
	// TaskKeys is the task key set of the most recently completed load.
	TaskKeys []string

	// ExamInfo is the merged exam metadata and prescan values.
	ExamInfo map[string]string

	// Counter is the number of commands written.
	Counter uint64

	// InFlight is the name of the command awaiting acknowledgement, or "".
	InFlight string

	// TaskCursor is the index of the last successfully selected task, or -1.
	TaskCursor int

	// LastFailure is the text of the last controller reply that reported a
	// failure.
	LastFailure string

	// Closed is true once the session has shut down.
	Closed bool
}

// Session is one connection to the controller.
//
// A single loop goroutine owns all session state and is the only writer
// of the condition signals. Callers submit commands to it and observe its
// progress through WaitFor and the snapshot accessors.
type Session struct {
	log       *slog.Logger
	cfg       config.Config
	transport config.Transport
	metrics   *metrics.Collector

	signals map[SignalName]*Signal
	state   atomic.Pointer[State]

	requests chan *commandRequest
	events   chan wire.Event

	// Fatal error handling - stores error and broadcasts via closed channel
	errMu    sync.RWMutex
	fatalErr error
	closed   chan struct{}

	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	closeErr  error
}

// Connect dials the controller described by cfg and performs the handshake:
// ConnectToScanner with the configured product and password, then
// NotifyEvent all=on unless SkipNotifyEvents is set. Both replies must
// arrive within HandshakeTimeout.
//
// Returns TransportError if the controller is unreachable and
// HandshakeError if it rejects the sequence or does not answer in time.
func Connect(ctx context.Context, cfg *config.Config, opts *config.Options) (*Session, error) {
	if opts == nil {
		opts = &config.Options{}
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	c := cfg.WithDefaults()

	tr := opts.Transport
	if tr == nil {
		tr = transport.NewTCPTransport(log, &c)
	}

	if err := tr.Start(ctx); err != nil {
		return nil, err
	}

	s := newSession(log, c, tr, opts.Metrics)
	s.start(ctx)

	if err := s.handshake(ctx); err != nil {
		_ = s.Close()

		return nil, err
	}

	return s, nil
}

func newSession(log *slog.Logger, cfg config.Config, tr config.Transport, m *metrics.Collector) *Session {
	s := &Session{
		log:       log.With("component", "session"),
		cfg:       cfg,
		transport: tr,
		metrics:   m,
		signals:   make(map[SignalName]*Signal, len(AllSignals)),
		requests:  make(chan *commandRequest),
		events:    make(chan wire.Event, eventBuffer),
		closed:    make(chan struct{}),
	}

	for _, name := range AllSignals {
		s.signals[name] = NewSignal(s.closed)
	}

	s.state.Store(&State{TaskCursor: -1, ExamInfo: map[string]string{}})

	return s
}

// start launches the reader and the session loop. The loops outlive ctx;
// only Close or a transport failure stops them.
func (s *Session) start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	messages, errs := s.transport.ReadMessages(loopCtx)

	s.group = &errgroup.Group{}
	s.group.Go(func() error { return s.readLoop(loopCtx, messages, errs) })
	s.group.Go(func() error { return s.run(loopCtx) })

	s.log.Info("Session started")
}

func (s *Session) handshake(ctx context.Context) error {
	timeout := s.cfg.HandshakeTimeout

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	connect := wire.NewCommand(cmdConnect, "product", s.cfg.Product, "passwd", s.cfg.Password)

	s.log.Debug("Sending handshake", "command", connect.String())

	ev, err := s.sendAwait(hctx, connect, timeout)
	if err != nil {
		return &errors.HandshakeError{Reason: "no reply to " + cmdConnect, Err: err}
	}

	if ev.Failed() {
		return &errors.HandshakeError{Reason: "controller rejected " + cmdConnect + ": " + ev.Raw}
	}

	if s.cfg.SkipNotifyEvents {
		s.log.Info("Connected to controller", "product", s.cfg.Product)

		return nil
	}

	ev, err = s.sendAwait(hctx, wire.NewCommand(cmdNotify, "all", "on"), timeout)
	if err != nil {
		return &errors.HandshakeError{Reason: "no reply to " + cmdNotify, Err: err}
	}

	if ev.Failed() {
		return &errors.HandshakeError{Reason: "controller rejected " + cmdNotify + ": " + ev.Raw}
	}

	s.log.Info("Connected to controller", "product", s.cfg.Product)

	return nil
}

// LoadProtocol issues LoadProtocol and returns once it is written. The
// protocol-ready signal is cleared; the controller's result replaces the
// task keys and sets it again. A failed load leaves the key set empty and
// protocol-ready unset.
func (s *Session) LoadProtocol(ctx context.Context, name string) error {
	return s.Send(ctx, wire.NewCommand(cmdLoadProtocol, "protocol", name))
}

// SelectTask selects the task at index in the current task key set.
//
// Returns InvalidTaskError without writing anything if the set is empty or
// the index is out of range.
func (s *Session) SelectTask(ctx context.Context, index int) error {
	return s.submit(ctx, cmdSelectTask, func(st *loopState) (wire.Command, error) {
		if index < 0 || index >= len(st.taskKeys) {
			return wire.Command{}, &errors.InvalidTaskError{Index: index, Count: len(st.taskKeys)}
		}

		return selectCommand(st.taskKeys[index]), nil
	}, nil)
}

// SelectTaskKey selects a task by key. The key must be in the current task
// key set.
func (s *Session) SelectTaskKey(ctx context.Context, key string) error {
	return s.submit(ctx, cmdSelectTask, func(st *loopState) (wire.Command, error) {
		if !slices.Contains(st.taskKeys, key) {
			return wire.Command{}, &errors.InvalidTaskError{Index: -1, Key: key, Count: len(st.taskKeys)}
		}

		return selectCommand(key), nil
	}, nil)
}

// SelectNextTask selects the task after the last successfully selected
// one, or the first task after a protocol load.
func (s *Session) SelectNextTask(ctx context.Context) error {
	return s.submit(ctx, cmdSelectTask, func(st *loopState) (wire.Command, error) {
		next := st.cursor + 1
		if next >= len(st.taskKeys) {
			return wire.Command{}, &errors.InvalidTaskError{Index: next, Count: len(st.taskKeys)}
		}

		return selectCommand(st.taskKeys[next]), nil
	}, nil)
}

func selectCommand(key string) wire.Command {
	return wire.NewCommand(cmdSelectTask, "taskkey", key)
}

// ActivateTask activates the selected task.
func (s *Session) ActivateTask(ctx context.Context) error {
	return s.Send(ctx, wire.NewCommand(cmdActivateTask))
}

// PatientTable moves the patient table to the scan position.
func (s *Session) PatientTable(ctx context.Context) error {
	return s.Send(ctx, wire.NewCommand(cmdPatientTable))
}

// Prescan runs the prescan, automatically or with the manual values.
func (s *Session) Prescan(ctx context.Context, auto bool) error {
	mode := "off"
	if auto {
		mode = "on"
	}

	return s.Send(ctx, wire.NewCommand(cmdPrescan, "auto", mode))
}

// Scan starts the acquisition. The command stays in flight until the
// controller reports acquisition=complete, which also sets the
// acquisition-complete signal.
func (s *Session) Scan(ctx context.Context) error {
	return s.Send(ctx, wire.NewCommand(cmdScan).WithAck(wire.AckOnAcquisition))
}

// SetCV sets one control variable of the active task.
func (s *Session) SetCV(ctx context.Context, name string, value float64) error {
	return s.Send(ctx, wire.NewCommand(cmdSetCV, name, formatFloat(value)))
}

// SetCenterFrequency sets the center frequency in Hz.
func (s *Session) SetCenterFrequency(ctx context.Context, hz int64) error {
	return s.Send(ctx, wire.NewCommand(cmdSetCenterFreq, "value", strconv.FormatInt(hz, 10)))
}

// SetShimValues sets the linear shim gradients.
func (s *Session) SetShimValues(ctx context.Context, x, y, z int) error {
	return s.Send(ctx, wire.NewCommand(cmdSetShimValues,
		"x", strconv.Itoa(x),
		"y", strconv.Itoa(y),
		"z", strconv.Itoa(z),
	))
}

// GetPrescanValues asks the controller for the prescan values. The reply is
// merged into ExamInfo.
func (s *Session) GetPrescanValues(ctx context.Context) error {
	return s.Send(ctx, wire.NewCommand(cmdGetPrescanValues))
}

// RequestExamInfo asks the controller for the exam metadata. The reply is
// merged into ExamInfo.
func (s *Session) RequestExamInfo(ctx context.Context) error {
	return s.Send(ctx, wire.NewCommand(cmdGetExamInfo))
}

// Send writes one command and returns once it is written. The command
// holds the in-flight slot until its acknowledgement arrives or
// CommandTimeout elapses.
//
// Returns BusyError if another command is in flight and the policy is
// reject, TransportError if the write fails and ErrSessionClosed (or the
// transport failure) if the session is closed.
func (s *Session) Send(ctx context.Context, cmd wire.Command) error {
	return s.submit(ctx, cmd.Name, func(*loopState) (wire.Command, error) {
		return cmd, nil
	}, nil)
}

// sendAwait sends cmd and waits up to timeout for the event that resolves
// it.
func (s *Session) sendAwait(ctx context.Context, cmd wire.Command, timeout time.Duration) (wire.Event, error) {
	acked := make(chan wire.Event, 1)

	err := s.submit(ctx, cmd.Name, func(*loopState) (wire.Command, error) {
		return cmd, nil
	}, acked)
	if err != nil {
		return wire.Event{}, err
	}

	select {
	case ev, ok := <-acked:
		if ok {
			return ev, nil
		}
	case <-ctx.Done():
	case <-s.closed:
	}

	if err := s.closedErr(); err != nil {
		return wire.Event{}, err
	}

	return wire.Event{}, &errors.TimeoutError{Op: cmd.Name, Timeout: timeout}
}

// WaitFor blocks until the named signal is set, timeout elapses or the
// session closes. It never blocks longer than timeout (when positive) or
// past ctx.
func (s *Session) WaitFor(ctx context.Context, name SignalName, timeout time.Duration) WaitResult {
	sig, ok := s.signals[name]
	if !ok {
		s.log.Warn("Wait on unknown signal", "signal", name)

		return WaitTimedOut
	}

	result := sig.Wait(ctx, timeout)

	s.metrics.Wait(string(name), result.String())
	s.log.Debug("Wait finished", "signal", name, "result", result.String())

	return result
}

// TaskKeys returns a copy of the current task key set.
func (s *Session) TaskKeys() []string {
	return slices.Clone(s.state.Load().TaskKeys)
}

// ExamInfo returns a copy of the exam metadata.
func (s *Session) ExamInfo() map[string]string {
	return maps.Clone(s.state.Load().ExamInfo)
}

// InFlight returns the name of the command awaiting acknowledgement, or "".
func (s *Session) InFlight() string {
	return s.state.Load().InFlight
}

// LastFailure returns the last failure reply from the controller, or "".
func (s *Session) LastFailure() string {
	return s.state.Load().LastFailure
}

// Snapshot returns the current state. Its slices and maps are shared and
// must not be modified.
func (s *Session) Snapshot() State {
	return *s.state.Load()
}

// Done returns a channel that is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Err returns the transport failure that closed the session, if any.
func (s *Session) Err() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()

	return s.fatalErr
}

// Close stops the loops, closes the transport and wakes every waiter with
// WaitClosed. It's safe to call Close multiple times.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.log.Debug("Closing session")

		s.cancel()
		s.closeErr = s.transport.Close()
		_ = s.group.Wait()

		s.log.Info("Session closed")
	})

	return s.closeErr
}

// setFatalError stores the first transport failure.
func (s *Session) setFatalError(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	if s.fatalErr == nil {
		s.fatalErr = err
	}
}

// closedErr returns nil while the session is open, otherwise the transport
// failure or ErrSessionClosed.
func (s *Session) closedErr() error {
	select {
	case <-s.closed:
	default:
		return nil
	}

	if err := s.Err(); err != nil {
		return err
	}

	return errors.ErrSessionClosed
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
