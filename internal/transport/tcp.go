package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

const (
	// readChunkSize is the size of a single socket read.
	readChunkSize = 6000

	// defaultWriteTimeout bounds a write when the caller's context has no
	// deadline.
	defaultWriteTimeout = 5 * time.Second
)

// TCPTransport implements config.Transport over a TCP connection to the
// controller.
type TCPTransport struct {
	log      *slog.Logger
	address  string
	dialTO   time.Duration
	readPoll time.Duration
	conn     net.Conn
	mu       sync.Mutex // Protects conn writes and lifecycle flags
	closing  bool       // Whether Close() has been called (intentional shutdown)
}

// Compile-time verification that TCPTransport implements the Transport interface.
var _ config.Transport = (*TCPTransport)(nil)

// NewTCPTransport creates a transport for the controller described by cfg.
// The connection is opened by Start.
func NewTCPTransport(log *slog.Logger, cfg *config.Config) *TCPTransport {
	defaulted := cfg.WithDefaults()

	return &TCPTransport{
		log:      log.With("component", "tcp_transport"),
		address:  defaulted.Address(),
		dialTO:   defaulted.DialTimeout,
		readPoll: defaulted.ReadPoll,
	}
}

// Start dials the controller.
//
// Returns TransportError if the controller is unreachable.
func (t *TCPTransport) Start(ctx context.Context) error {
	t.log.Info("Connecting to controller", "address", t.address)

	dialer := net.Dialer{Timeout: t.dialTO}

	conn, err := dialer.DialContext(ctx, "tcp", t.address)
	if err != nil {
		t.log.Error("Failed to connect to controller", "address", t.address, "error", err)

		return &errors.TransportError{Op: "dial", Err: err}
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.log.Info("Connected to controller", "local", conn.LocalAddr().String())

	return nil
}

// ReadMessages reads frames from the connection.
//
// This method starts a goroutine that reads with a short deadline
// (Config.ReadPoll) so that context cancellation is observed within one
// poll interval even when the controller is silent. Each complete frame is
// delivered as payload text.
//
// The goroutine exits when:
//   - The connection is closed by either side
//   - The context is cancelled
//   - The stream is corrupt
//
// A read error other than an intentional Close is sent to the error channel
// as a TransportError. Both channels are closed on exit.
func (t *TCPTransport) ReadMessages(ctx context.Context) (<-chan string, <-chan error) {
	messages := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(messages)
		defer close(errs)
		defer t.log.Debug("ReadMessages goroutine stopped")

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()

		if conn == nil {
			errs <- errors.ErrTransportNotConnected

			return
		}

		var frames wire.FrameBuffer

		buf := make([]byte, readChunkSize)
		messageCount := 0

		for {
			if ctx.Err() != nil {
				t.log.Debug("Context cancelled during read", "error", ctx.Err())

				return
			}

			if err := conn.SetReadDeadline(time.Now().Add(t.readPoll)); err != nil {
				t.reportReadError(errs, err)

				return
			}

			n, err := conn.Read(buf)
			if n > 0 {
				_, _ = frames.Write(buf[:n])

				for {
					payload, ok, ferr := frames.Next()
					if ferr != nil {
						t.log.Error("Corrupt frame from controller", "error", ferr)

						errs <- &errors.TransportError{Op: "decode", Err: ferr}

						return
					}

					if !ok {
						break
					}

					messageCount++
					t.log.Debug("Received frame from controller", "message_count", messageCount)

					select {
					case messages <- wire.PayloadText(payload):
					case <-ctx.Done():
						return
					}
				}
			}

			if err != nil {
				if stderrors.Is(err, os.ErrDeadlineExceeded) {
					continue
				}

				t.reportReadError(errs, err)

				return
			}
		}
	}()

	return messages, errs
}

func (t *TCPTransport) reportReadError(errs chan<- error, err error) {
	t.mu.Lock()
	isClosing := t.closing
	t.mu.Unlock()

	if isClosing {
		t.log.Debug("Connection closed during shutdown")

		return
	}

	if stderrors.Is(err, io.EOF) {
		t.log.Warn("Controller closed the connection")
	} else {
		t.log.Error("Read from controller failed", "error", err)
	}

	errs <- &errors.TransportError{Op: "read", Err: err}
}

// SendMessage writes one frame to the controller.
//
// The write is bounded by the context deadline, or by a default write
// timeout when the context has none. Safe for concurrent use.
func (t *TCPTransport) SendMessage(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return errors.ErrTransportNotConnected
	}

	if t.closing {
		return &errors.TransportError{Op: "write", Err: net.ErrClosed}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return &errors.TransportError{Op: "write", Err: err}
	}

	t.log.Debug("Sending frame to controller", "data_len", len(frame))

	if _, err := t.conn.Write(frame); err != nil {
		t.log.Error("Failed to write frame", "error", err)

		return &errors.TransportError{Op: "write", Err: err}
	}

	return nil
}

// IsReady returns true while the connection is open.
func (t *TCPTransport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil && !t.closing
}

// Close closes the connection. It's safe to call Close multiple times.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closing {
		return nil
	}

	t.closing = true

	if t.conn == nil {
		return nil
	}

	t.log.Debug("Closing controller connection")

	if err := t.conn.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}

	return nil
}
