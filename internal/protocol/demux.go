package protocol

import (
	"context"
	stderrors "errors"
	"maps"
	"slices"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

// commandRequest is a caller's command handed to the session loop.
type commandRequest struct {
	ctx  context.Context
	name string

	// build produces the command from loop-owned state. An error is
	// returned to the caller and nothing is written.
	build func(st *loopState) (wire.Command, error)

	// done receives exactly one result: nil once written, or the error.
	done chan error

	// acked, if set, receives the resolving event. It is closed without a
	// value if the command expires or the session closes first.
	acked chan wire.Event
}

// inFlight is the command awaiting acknowledgement.
type inFlight struct {
	cmd     wire.Command
	counter uint64
	acked   chan wire.Event
	timer   *time.Timer
	since   time.Time
}

// loopState is owned by the session loop goroutine.
type loopState struct {
	taskKeys    []string
	examInfo    map[string]string
	counter     uint64
	cursor      int
	lastFailure string
	inFlight    *inFlight
	queue       []*commandRequest

	// signalOps are applied in order after the next publish, so a woken
	// waiter always observes the state that caused the wake-up.
	signalOps []signalOp
}

type signalOp struct {
	name SignalName
	set  bool
}

// stale reports whether ev answers a command older than the one it would
// otherwise be matched to. Only replies carrying a routing counter are
// checked; acquisition notices are not replies.
func (st *loopState) stale(ev wire.Event) bool {
	if !ev.Routed || ev.Kind == wire.EventAcquisition || ev.Kind == wire.EventUnknown {
		return false
	}

	if st.inFlight != nil {
		return ev.Counter != st.inFlight.counter
	}

	return ev.Counter+1 < st.counter
}

func (st *loopState) raise(name SignalName) {
	st.signalOps = append(st.signalOps, signalOp{name: name, set: true})
}

func (st *loopState) lower(name SignalName) {
	st.signalOps = append(st.signalOps, signalOp{name: name})
}

// submit hands a command to the loop and waits until it is written or
// rejected. A queued command waits here until the slot frees or ctx ends.
func (s *Session) submit(
	ctx context.Context,
	name string,
	build func(st *loopState) (wire.Command, error),
	acked chan wire.Event,
) error {
	req := &commandRequest{
		ctx:   ctx,
		name:  name,
		build: build,
		done:  make(chan error, 1),
		acked: acked,
	}

	select {
	case s.requests <- req:
	case <-s.closed:
		return s.closedErr()
	case <-ctx.Done():
		return s.abandoned(ctx, name)
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		// The loop skips requests whose context has ended.
		return s.abandoned(ctx, name)
	}
}

func (s *Session) abandoned(ctx context.Context, name string) error {
	s.metrics.CommandError(name, "timeout")

	var timeout time.Duration

	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), 0)
	}

	return &errors.TimeoutError{Op: name, Timeout: timeout}
}

// readLoop decodes inbound messages and posts them to the session loop.
// It never touches session state. Closing events tells the loop the
// connection is gone.
func (s *Session) readLoop(ctx context.Context, messages <-chan string, errs <-chan error) error {
	defer close(s.events)
	defer s.log.Debug("Session read loop stopped")

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				s.log.Debug("Message channel closed")

				s.drainReadError(ctx, errs)

				return nil
			}

			ev, err := wire.ParseEvent(msg)
			if err != nil {
				s.log.Warn("Dropping unrecognized controller message", "message", wire.StripRouting(msg))
				s.metrics.Event(wire.EventUnknown.String())

				continue
			}

			select {
			case s.events <- ev:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			if err != nil {
				s.recordReadError(err)

				return nil
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// drainReadError picks up the error a transport reports alongside closing
// its message channel.
func (s *Session) drainReadError(ctx context.Context, errs <-chan error) {
	if errs != nil {
		select {
		case err, ok := <-errs:
			if ok && err != nil {
				s.recordReadError(err)

				return
			}
		case <-ctx.Done():
		}
	}

	if ctx.Err() == nil {
		s.recordReadError(errConnectionClosed)
	}
}

var errConnectionClosed = stderrors.New("connection closed by controller")

func (s *Session) recordReadError(err error) {
	if _, ok := stderrors.AsType[*errors.TransportError](err); !ok {
		err = &errors.TransportError{Op: "read", Err: err}
	}

	s.log.Error("Controller connection lost", "error", err)
	s.setFatalError(err)
}

// run is the session loop. It applies events, dispatches commands and
// expires unacknowledged commands until the connection or the session ends.
func (s *Session) run(ctx context.Context) error {
	st := &loopState{
		examInfo: map[string]string{},
		cursor:   -1,
	}

	defer s.shutdown(st)

	for {
		var expired <-chan time.Time
		if st.inFlight != nil {
			expired = st.inFlight.timer.C
		}

		select {
		case ev, ok := <-s.events:
			if !ok {
				return nil
			}

			s.apply(st, ev)

		case req := <-s.requests:
			s.dispatch(st, req)

		case <-expired:
			s.expire(st)

		case <-ctx.Done():
			return nil
		}

		s.publish(st, false)
	}
}

// dispatch writes req now, queues it, or rejects it, depending on the
// in-flight slot and policy.
func (s *Session) dispatch(st *loopState, req *commandRequest) {
	if req.ctx.Err() != nil {
		return
	}

	// Invalid input fails now, whatever is in flight. write builds again
	// because queued commands see the state at dispatch time.
	if _, err := req.build(st); err != nil {
		s.metrics.CommandError(req.name, "invalid")
		req.done <- err

		return
	}

	if st.inFlight == nil {
		s.write(st, req)

		return
	}

	if s.cfg.InFlightPolicy == config.InFlightQueue {
		s.log.Debug("Queueing command", "command", req.name, "in_flight", st.inFlight.cmd.Name)
		st.queue = append(st.queue, req)

		return
	}

	s.log.Debug("Rejecting command while busy", "command", req.name, "in_flight", st.inFlight.cmd.Name)
	s.metrics.CommandError(req.name, "busy")

	req.done <- &errors.BusyError{Command: req.name, InFlight: st.inFlight.cmd.Name}
}

// write builds and writes one command and takes the in-flight slot.
func (s *Session) write(st *loopState, req *commandRequest) {
	cmd, err := req.build(st)
	if err != nil {
		s.metrics.CommandError(req.name, "invalid")
		req.done <- err

		return
	}

	frame := wire.EncodeFrame(s.tag(), st.counter, cmd.Encode())

	s.log.Debug("Sending command", "command", cmd.String(), "counter", st.counter)

	if err := s.transport.SendMessage(req.ctx, frame); err != nil {
		s.metrics.CommandError(cmd.Name, "transport")
		req.done <- err

		return
	}

	st.counter++
	s.metrics.CommandSent(cmd.Name)

	switch cmd.Name {
	case cmdLoadProtocol:
		st.lower(SignalProtocolReady)
	case cmdScan:
		st.lower(SignalAcquisitionComplete)
	}

	st.lower(SignalCommandAcknowledged)
	st.raise(SignalCommandSent)

	if cmd.Ack == wire.AckImmediate {
		st.lower(SignalCommandSent)
		st.raise(SignalCommandAcknowledged)
		s.metrics.CommandResolved()

		if req.acked != nil {
			close(req.acked)
		}

		s.publish(st, false)
		req.done <- nil

		return
	}

	st.inFlight = &inFlight{
		cmd:     cmd,
		counter: st.counter - 1,
		acked:   req.acked,
		timer:   time.NewTimer(s.cfg.CommandTimeout),
		since:   time.Now(),
	}

	// The caller must not return before the signal changes are visible.
	s.publish(st, false)
	req.done <- nil
}

// apply performs the state transition for one event.
func (s *Session) apply(st *loopState, ev wire.Event) {
	s.metrics.Event(ev.Kind.String())
	s.log.Debug("Controller event", "kind", ev.Kind.String(), "name", ev.Name, "status", ev.Status)

	if st.stale(ev) {
		s.log.Warn("Dropping reply to an earlier command", "reply", ev.Raw, "counter", ev.Counter)

		return
	}

	failed := ev.Failed()
	if failed {
		st.lastFailure = ev.Raw
		s.log.Warn("Controller reported failure", "reply", ev.Raw)
		s.abortQueue(st, ev)
	}

	switch ev.Kind {
	case wire.EventConnected:
		if !failed {
			st.raise(SignalConnected)
		}

	case wire.EventProtocolLoaded:
		st.cursor = -1

		if failed {
			st.taskKeys = nil
		} else {
			st.taskKeys = slices.Clone(ev.TaskKeys)
			st.raise(SignalProtocolReady)
			s.log.Info("Protocol loaded", "tasks", len(st.taskKeys))
		}

	case wire.EventExamInfo, wire.EventPrescanValues:
		if len(ev.Fields) > 0 {
			info := maps.Clone(st.examInfo)
			maps.Copy(info, ev.Fields)
			delete(info, "error")
			st.examInfo = info
		}

	case wire.EventAcquisition:
		if ev.AcquisitionComplete() {
			st.raise(SignalAcquisitionComplete)
		}

	case wire.EventAck, wire.EventTaskSelected, wire.EventNotifyToggled, wire.EventUnknown:
	}

	if st.inFlight != nil && st.inFlight.cmd.Acknowledged(ev) {
		s.resolve(st, ev)
	}
}

// resolve releases the in-flight slot with the event that acknowledged it
// and dispatches the next queued command.
func (s *Session) resolve(st *loopState, ev wire.Event) {
	f := st.inFlight
	f.timer.Stop()
	st.inFlight = nil

	if ev.Failed() {
		s.metrics.CommandError(f.cmd.Name, "fail")
	} else if f.cmd.Name == cmdSelectTask {
		key := argValue(f.cmd, "taskkey")
		st.cursor = slices.Index(st.taskKeys, key)
	}

	s.log.Debug("Command acknowledged", "command", f.cmd.Name, "elapsed", time.Since(f.since))

	st.lower(SignalCommandSent)
	st.raise(SignalCommandAcknowledged)
	s.metrics.CommandResolved()

	if f.acked != nil {
		s.publish(st, false)
		f.acked <- ev
	}

	s.dispatchQueued(st)
}

// expire frees the slot of a command that was never acknowledged.
func (s *Session) expire(st *loopState) {
	f := st.inFlight
	st.inFlight = nil

	s.log.Warn("Command was not acknowledged in time",
		"command", f.cmd.Name,
		"timeout", s.cfg.CommandTimeout,
	)

	s.metrics.CommandError(f.cmd.Name, "timeout")
	s.metrics.CommandResolved()
	st.lower(SignalCommandSent)

	if f.acked != nil {
		close(f.acked)
	}

	s.dispatchQueued(st)
}

// dispatchQueued writes queued commands until one takes the slot.
func (s *Session) dispatchQueued(st *loopState) {
	for st.inFlight == nil && len(st.queue) > 0 {
		req := st.queue[0]
		st.queue = st.queue[1:]

		if req.ctx.Err() != nil {
			continue
		}

		s.write(st, req)
	}
}

// abortQueue fails every queued command after a controller failure.
func (s *Session) abortQueue(st *loopState, ev wire.Event) {
	if len(st.queue) == 0 {
		return
	}

	s.log.Warn("Clearing command queue after failure", "dropped", len(st.queue))

	for _, req := range st.queue {
		s.metrics.CommandError(req.name, "aborted")
		req.done <- &errors.CommandError{Command: req.name, Reply: ev.Raw}
	}

	st.queue = nil
}

// shutdown marks the session closed, wakes every waiter and fails what is
// still pending. Runs on the loop goroutine as it exits.
func (s *Session) shutdown(st *loopState) {
	fatal := s.Err()

	if f := st.inFlight; f != nil {
		f.timer.Stop()
		st.inFlight = nil

		s.metrics.CommandResolved()

		if f.acked != nil {
			close(f.acked)
		}
	}

	for _, req := range st.queue {
		if fatal != nil {
			req.done <- fatal
		} else {
			req.done <- &errors.ShutdownError{Op: req.name}
		}
	}

	st.queue = nil

	if fatal != nil {
		_ = s.transport.Close()
	}

	s.publish(st, true)
	close(s.closed)

	s.log.Debug("Session loop stopped", "error", fatal)
}

// publish stores an immutable snapshot of the loop state.
func (s *Session) publish(st *loopState, closed bool) {
	snap := &State{
		TaskKeys:    st.taskKeys,
		ExamInfo:    st.examInfo,
		Counter:     st.counter,
		TaskCursor:  st.cursor,
		LastFailure: st.lastFailure,
		Closed:      closed,
	}

	if st.inFlight != nil {
		snap.InFlight = st.inFlight.cmd.Name
	}

	s.state.Store(snap)

	for _, op := range st.signalOps {
		if op.set {
			s.signals[op.name].Set()
		} else {
			s.signals[op.name].Clear()
		}
	}

	st.signalOps = st.signalOps[:0]
}

func (s *Session) tag() string {
	if s.cfg.Tag != "" {
		return s.cfg.Tag
	}

	return wire.DefaultTag
}

func argValue(cmd wire.Command, key string) string {
	for _, arg := range cmd.Args {
		if arg.Key == key {
			return arg.Value
		}
	}

	return ""
}
