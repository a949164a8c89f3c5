package bridge

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/exsi-sdk-go/internal/cli"
	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/protocol"
)

func newTestHandler(t *testing.T) (*SessionHandler, *fakeController) {
	t.Helper()

	fc := newFakeController()
	h := NewSessionHandler(HandlerOptions{
		Transport: func(*config.Config) config.Transport { return fc },
	})

	t.Cleanup(func() { _ = h.Close() })

	return h, fc
}

func TestSessionHandler_NotConnected(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Handle(ctx, &LoadProtocolRequest{Protocol: "BPT_EXSI"})
	require.ErrorIs(t, err, errors.ErrNotConnected)

	res, err := h.Handle(ctx, &PingRequest{})
	require.NoError(t, err)
	require.Equal(t, &PingResult{Version: cli.Version}, res)

	require.NoError(t, h.Close())
}

func TestSessionHandler_ConnectOnce(t *testing.T) {
	h, fc := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Handle(ctx, &ConnectRequest{Config: *testConfig()})
	require.NoError(t, err)
	require.Equal(t, []string{
		"ConnectToScanner product=newHV passwd=secret",
		"NotifyEvent all=on",
	}, fc.sentCommands())

	_, err = h.Handle(ctx, &ConnectRequest{Config: *testConfig()})
	require.ErrorIs(t, err, errors.ErrAlreadyConnected)

	res, err := h.Handle(ctx, &PingRequest{})
	require.NoError(t, err)
	require.True(t, res.(*PingResult).Connected)
}

func TestSessionHandler_InvalidConfig(t *testing.T) {
	h, fc := newTestHandler(t)

	cfg := testConfig()
	cfg.Product = ""

	_, err := h.Handle(context.Background(), &ConnectRequest{Config: *cfg})
	require.Error(t, err)
	require.Empty(t, fc.sentCommands())
}

func TestSessionHandler_ProtocolFlow(t *testing.T) {
	h, fc := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Handle(ctx, &ConnectRequest{Config: *testConfig()})
	require.NoError(t, err)

	_, err = h.Handle(ctx, &LoadProtocolRequest{Protocol: "BPT_EXSI"})
	require.NoError(t, err)

	res, err := h.Handle(ctx, &WaitForRequest{Signal: string(protocol.SignalProtocolReady), Timeout: 2 * time.Second})
	require.NoError(t, err)
	require.Equal(t, &WaitForResult{Result: "signaled"}, res)

	res, err = h.Handle(ctx, &GetTaskKeysRequest{})
	require.NoError(t, err)
	require.Equal(t, &TaskKeysResult{TaskKeys: []string{"103", "104", "105"}}, res)

	_, err = h.Handle(ctx, &SelectTaskRequest{Index: 5})
	_, ok := stderrors.AsType[*errors.InvalidTaskError](err)
	require.True(t, ok, "expected InvalidTaskError, got %v", err)

	_, err = h.Handle(ctx, &SelectTaskRequest{Key: "104"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := h.Handle(ctx, &PingRequest{})

		return err == nil && res.(*PingResult).InFlight == ""
	}, 2*time.Second, 5*time.Millisecond)

	_, err = h.Handle(ctx, &RequestExamInfoRequest{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := h.Handle(ctx, &GetExamInfoRequest{})

		return err == nil && res.(*ExamInfoResult).ExamInfo["patientName"] == "Phantom"
	}, 2*time.Second, 5*time.Millisecond)

	require.Contains(t, fc.sentCommands(), "SelectTask taskkey=104")
	require.Contains(t, fc.sentCommands(), "GetExamInfo")
}

func TestSessionHandler_WaitForUnknownSignal(t *testing.T) {
	h, _ := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Handle(ctx, &ConnectRequest{Config: *testConfig()})
	require.NoError(t, err)

	_, err = h.Handle(ctx, &WaitForRequest{Signal: "ready"})
	require.Error(t, err)
}

func TestSessionHandler_RawSendHoldsSlot(t *testing.T) {
	h, fc := newTestHandler(t)
	ctx := context.Background()

	_, err := h.Handle(ctx, &ConnectRequest{Config: *testConfig()})
	require.NoError(t, err)

	// Scan is never acknowledged by the fake controller.
	_, err = h.Handle(ctx, &ScanRequest{})
	require.NoError(t, err)

	_, err = h.Handle(ctx, &SendRequest{Name: "Custom", Args: []Arg{{Key: "a", Value: "1"}}})
	busy, ok := stderrors.AsType[*errors.BusyError](err)
	require.True(t, ok, "expected BusyError, got %v", err)
	require.Equal(t, "Scan", busy.InFlight)

	require.NotContains(t, fc.sentCommands(), "Custom a=1")
}
