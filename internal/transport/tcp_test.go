package transport

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

// listen starts a one-connection TCP listener and returns the config to
// reach it plus a channel yielding the accepted server side.
func listen(t *testing.T) (*config.Config, <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		accepted <- conn
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := config.Config{
		Host:     host,
		Port:     port,
		ReadPoll: 20 * time.Millisecond,
	}

	return &cfg, accepted
}

func startTransport(t *testing.T) (*TCPTransport, net.Conn) {
	t.Helper()

	cfg, accepted := listen(t)
	tr := NewTCPTransport(slog.Default(), cfg)

	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })

	select {
	case server := <-accepted:
		t.Cleanup(func() { _ = server.Close() })

		return tr, server
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not accept")
	}

	return nil, nil
}

func TestTCPTransport_SendMessage(t *testing.T) {
	tr, server := startTransport(t)
	require.True(t, tr.IsReady())

	frame := wire.EncodeFrame("heartvista", 0, "NotifyEvent all=on")
	require.NoError(t, tr.SendMessage(context.Background(), frame))

	got := make([]byte, len(frame))
	_, err := io.ReadFull(server, got)
	require.NoError(t, err)
	require.Equal(t, frame, got)
}

func TestTCPTransport_ReadMessages(t *testing.T) {
	tr, server := startTransport(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messages, errs := tr.ReadMessages(ctx)

	// Two frames in one write, a third split across writes with a pause
	// longer than the read poll.
	third := wire.EncodeFrame("t", 3, "<SelectTask=ok")
	_, err := server.Write(append(wire.EncodeFrame("t", 1, "<ConnectToScanner=ok"), wire.EncodeFrame("t", 2, "<NotifyEvent=ok")...))
	require.NoError(t, err)
	_, err = server.Write(third[:10])
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = server.Write(third[10:])
	require.NoError(t, err)

	var got []string

	for len(got) < 3 {
		select {
		case msg := <-messages:
			got = append(got, wire.StripRouting(msg))
		case err := <-errs:
			t.Fatalf("unexpected error: %v", err)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v", got)
		}
	}

	require.Equal(t, []string{"ConnectToScanner=ok", "NotifyEvent=ok", "SelectTask=ok"}, got)
}

func TestTCPTransport_PeerCloseReportsTransportError(t *testing.T) {
	tr, server := startTransport(t)

	messages, errs := tr.ReadMessages(context.Background())

	require.NoError(t, server.Close())

	select {
	case err := <-errs:
		_, ok := stderrors.AsType[*errors.TransportError](err)
		require.True(t, ok, "expected TransportError, got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not report peer close")
	}

	_, open := <-messages
	require.False(t, open)
}

func TestTCPTransport_CancelStopsReadWithinPoll(t *testing.T) {
	tr, _ := startTransport(t)

	ctx, cancel := context.WithCancel(context.Background())
	messages, errs := tr.ReadMessages(ctx)

	cancel()

	select {
	case _, open := <-messages:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("read loop ignored cancellation")
	}

	_, open := <-errs
	require.False(t, open, "cancellation is not an error")
}

func TestTCPTransport_CloseIsSilentAndIdempotent(t *testing.T) {
	tr, _ := startTransport(t)

	messages, errs := tr.ReadMessages(context.Background())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	require.False(t, tr.IsReady())

	select {
	case _, open := <-messages:
		require.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("read loop did not stop after Close")
	}

	_, open := <-errs
	require.False(t, open)

	err := tr.SendMessage(context.Background(), []byte("x"))
	_, ok := stderrors.AsType[*errors.TransportError](err)
	require.True(t, ok)
}

func TestTCPTransport_NotStarted(t *testing.T) {
	tr := NewTCPTransport(slog.Default(), &config.Config{Host: "127.0.0.1", Port: 1})

	require.ErrorIs(t, tr.SendMessage(context.Background(), []byte("x")), errors.ErrTransportNotConnected)
	require.False(t, tr.IsReady())

	_, errs := tr.ReadMessages(context.Background())
	require.ErrorIs(t, <-errs, errors.ErrTransportNotConnected)
}

func TestTCPTransport_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	tr := NewTCPTransport(slog.Default(), &config.Config{Host: "127.0.0.1", Port: addr.Port, DialTimeout: time.Second})

	err = tr.Start(context.Background())
	terr, ok := stderrors.AsType[*errors.TransportError](err)
	require.True(t, ok)
	require.Equal(t, "dial", terr.Op)
}
