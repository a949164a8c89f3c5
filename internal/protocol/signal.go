package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SignalName identifies one of the session's condition signals.
type SignalName string

// Session condition signals.
const (
	// SignalConnected is set once the controller accepts ConnectToScanner.
	SignalConnected SignalName = "connected"

	// SignalCommandSent is set while a written command awaits its
	// acknowledgement.
	SignalCommandSent SignalName = "command-sent"

	// SignalCommandAcknowledged is set when the last command was resolved
	// by a controller reply, including a failure reply.
	SignalCommandAcknowledged SignalName = "command-acknowledged"

	// SignalProtocolReady is set when a protocol load completed and the
	// task keys were replaced.
	SignalProtocolReady SignalName = "protocol-ready"

	// SignalAcquisitionComplete is set when the controller reports a
	// finished acquisition.
	SignalAcquisitionComplete SignalName = "acquisition-complete"
)

// AllSignals lists every session signal.
var AllSignals = []SignalName{
	SignalConnected,
	SignalCommandSent,
	SignalCommandAcknowledged,
	SignalProtocolReady,
	SignalAcquisitionComplete,
}

// ParseSignalName validates a signal name received from outside the
// process (bridge requests, CLI flags, tool arguments).
func ParseSignalName(s string) (SignalName, error) {
	for _, name := range AllSignals {
		if string(name) == s {
			return name, nil
		}
	}

	return "", fmt.Errorf("unknown signal %q", s)
}

// WaitResult is the outcome of waiting on a signal.
type WaitResult int

const (
	// WaitSignaled means the signal was set.
	WaitSignaled WaitResult = iota

	// WaitTimedOut means the timeout or the caller's context expired first.
	WaitTimedOut

	// WaitClosed means the session closed while waiting.
	WaitClosed
)

// String implements fmt.Stringer.
func (r WaitResult) String() string {
	switch r {
	case WaitSignaled:
		return "signaled"
	case WaitTimedOut:
		return "timed-out"
	case WaitClosed:
		return "closed"
	default:
		return fmt.Sprintf("WaitResult(%d)", int(r))
	}
}

// ParseWaitResult is the inverse of WaitResult.String.
func ParseWaitResult(s string) (WaitResult, error) {
	for _, r := range []WaitResult{WaitSignaled, WaitTimedOut, WaitClosed} {
		if r.String() == s {
			return r, nil
		}
	}

	return 0, fmt.Errorf("unknown wait result %q", s)
}

// Signal is a reusable edge-triggered gate. Set wakes every waiter; Clear
// re-arms it for the next milestone of the same kind.
//
// Waiters also wake when the owner's closed channel closes.
type Signal struct {
	mu     sync.Mutex
	set    bool
	ch     chan struct{} // closed while set
	closed <-chan struct{}
}

// NewSignal creates a cleared signal. closed may be nil.
func NewSignal(closed <-chan struct{}) *Signal {
	return &Signal{
		ch:     make(chan struct{}),
		closed: closed,
	}
}

// Set marks the signal and wakes all waiters. Setting a set signal is a
// no-op.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.set {
		return
	}

	s.set = true
	close(s.ch)
}

// Clear re-arms the signal. Clearing a cleared signal is a no-op.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.set {
		return
	}

	s.set = false
	s.ch = make(chan struct{})
}

// IsSet reports whether the signal is currently set.
func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.set
}

// Wait blocks until the signal is set, the timeout elapses, ctx is done or
// the owner closes. A set signal returns WaitSignaled immediately, even
// after close. A timeout <= 0 waits on ctx alone.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) WaitResult {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()

	select {
	case <-ch:
		return WaitSignaled
	default:
	}

	var expired <-chan time.Time

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		expired = timer.C
	}

	select {
	case <-ch:
		return WaitSignaled
	case <-s.closed:
		return WaitClosed
	case <-expired:
		return WaitTimedOut
	case <-ctx.Done():
		return WaitTimedOut
	}
}
