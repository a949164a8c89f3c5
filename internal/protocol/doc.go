// Package protocol implements the EXSI controller session.
//
// A Session owns one controller transport. Two goroutines run per session:
//   - The read loop decodes inbound frames into events and posts them.
//   - The session loop owns all state. It applies events, writes commands,
//     expires unacknowledged commands and is the only writer of the
//     condition signals.
//
// At most one command is in flight awaiting its acknowledgement. A second
// command is rejected with BusyError or queued, per Config.InFlightPolicy.
//
// Callers synchronize with the controller through WaitFor, which returns
// WaitSignaled, WaitTimedOut or WaitClosed and never blocks past its
// timeout or the session's end.
//
// Example usage:
//
//	session, err := protocol.Connect(ctx, cfg, &config.Options{Logger: log})
//	if err != nil {
//		return err
//	}
//	defer session.Close()
//
//	if err := session.LoadProtocol(ctx, "BPT_EXSI"); err != nil {
//		return err
//	}
//
//	if session.WaitFor(ctx, protocol.SignalProtocolReady, 5*time.Second) == protocol.WaitSignaled {
//		keys := session.TaskKeys()
//	}
package protocol
