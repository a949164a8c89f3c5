package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransportError(t *testing.T) {
	root := errors.New("connection reset by peer")
	err := &TransportError{Op: "read", Err: root}

	require.Equal(t, "transport error during read: connection reset by peer", err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsExsiError())

	bare := &TransportError{Err: root}
	require.Equal(t, "transport error: connection reset by peer", bare.Error())
}

func TestHandshakeError(t *testing.T) {
	root := &TimeoutError{Op: "ConnectToScanner", Timeout: 10 * time.Second}
	err := &HandshakeError{Reason: "no reply from controller", Err: root}

	require.Equal(t,
		"handshake failed: no reply from controller: ConnectToScanner timed out after 10s",
		err.Error(),
	)
	require.ErrorIs(t, err, root)

	_, ok := errors.AsType[*TimeoutError](err)
	require.True(t, ok)

	rejected := &HandshakeError{Reason: "ConnectToScanner=fail"}
	require.Equal(t, "handshake failed: ConnectToScanner=fail", rejected.Error())
	require.NoError(t, rejected.Unwrap())
}

func TestBusyError(t *testing.T) {
	err := &BusyError{Command: "SelectTask", InFlight: "LoadProtocol"}

	require.Equal(t, "cannot send SelectTask: LoadProtocol is still awaiting acknowledgement", err.Error())
	require.True(t, err.IsExsiError())
}

func TestInvalidTaskError(t *testing.T) {
	tests := []struct {
		name string
		err  *InvalidTaskError
		want string
	}{
		{
			name: "empty task set",
			err:  &InvalidTaskError{Index: 0},
			want: "invalid task: no protocol tasks loaded",
		},
		{
			name: "index out of range",
			err:  &InvalidTaskError{Index: 11, Count: 11},
			want: "invalid task: index 11 out of range (11 tasks)",
		},
		{
			name: "unknown key",
			err:  &InvalidTaskError{Key: "999", Count: 3},
			want: `invalid task: key "999" not in loaded protocol (3 tasks)`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestShutdownError(t *testing.T) {
	require.Equal(t, "load_protocol abandoned: shutting down", (&ShutdownError{Op: "load_protocol"}).Error())
	require.Equal(t, "operation abandoned: shutting down", (&ShutdownError{}).Error())
}

func TestTimeoutError(t *testing.T) {
	require.Equal(t, "call wait_for timed out after 2s", (&TimeoutError{Op: "call wait_for", Timeout: 2 * time.Second}).Error())
	require.Equal(t, "scan timed out", (&TimeoutError{Op: "scan"}).Error())
}

func TestCommandError(t *testing.T) {
	require.Equal(t, "command Prescan failed: Prescan=fail", (&CommandError{Command: "Prescan", Reply: "Prescan=fail"}).Error())
	require.Equal(t, "command Scan failed", (&CommandError{Command: "Scan"}).Error())
}

func TestProcessError(t *testing.T) {
	root := errors.New("signal: killed")
	err := &ProcessError{ExitCode: -1, Stderr: "ignored", Err: root}

	require.Equal(t, "worker process failed (exit -1): signal: killed", err.Error())
	require.ErrorIs(t, err, root)

	stderrOnly := &ProcessError{ExitCode: 2, Stderr: "bad config"}
	require.Equal(t, "worker process failed (exit 2): bad config", stderrOnly.Error())
}

func TestWorkerNotFoundError(t *testing.T) {
	err := &WorkerNotFoundError{SearchedPaths: []string{"/opt/exsi", "$PATH"}}

	require.Equal(t, "exsi worker executable not found in: [/opt/exsi $PATH]", err.Error())
	require.True(t, err.IsExsiError())
}
