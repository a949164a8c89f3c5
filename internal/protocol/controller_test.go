package protocol

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

// fakeController implements config.Transport and plays the controller.
// Replies registered with reply are pushed automatically when a command
// with that name is written; everything else stays silent until push.
type fakeController struct {
	mu       sync.Mutex
	sent     []string
	frames   [][]byte
	replies  map[string][]string
	startErr error
	sendErr  error
	closed   bool

	inbound chan string
	errs    chan error
}

var _ config.Transport = (*fakeController)(nil)

func newFakeController() *fakeController {
	f := &fakeController{
		replies: make(map[string][]string),
		inbound: make(chan string, 64),
		errs:    make(chan error, 1),
	}

	f.reply("ConnectToScanner", "ConnectToScanner=ok")
	f.reply("NotifyEvent", "NotifyEvent=ok")

	return f
}

// reply registers the messages pushed when a command named name is written.
// Calling it with no messages makes that command go unanswered.
func (f *fakeController) reply(name string, messages ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.replies[name] = messages
}

// push delivers one controller message, wrapped the way the controller
// routes it.
func (f *fakeController) push(msg string) {
	f.inbound <- "<" + msg
}

// fail simulates the connection dying.
func (f *fakeController) fail(err error) {
	f.errs <- err
}

func (f *fakeController) Start(context.Context) error {
	return f.startErr
}

func (f *fakeController) ReadMessages(context.Context) (<-chan string, <-chan error) {
	return f.inbound, f.errs
}

func (f *fakeController) SendMessage(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sendErr != nil {
		return f.sendErr
	}

	payload := string(frame[wire.HeaderSize:])
	text := payload[strings.Index(payload[1:], ">")+2:]

	f.sent = append(f.sent, text)
	f.frames = append(f.frames, frame)

	name, _, _ := strings.Cut(text, " ")
	for _, msg := range f.replies[name] {
		f.inbound <- "<" + msg
	}

	return nil
}

func (f *fakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func (f *fakeController) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return !f.closed
}

func (f *fakeController) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.sent))
	copy(out, f.sent)

	return out
}

func (f *fakeController) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func testConfig() *config.Config {
	return &config.Config{
		Host:             "127.0.0.1",
		Product:          "newHV",
		Password:         "secret",
		HandshakeTimeout: 2 * time.Second,
		CommandTimeout:   5 * time.Second,
	}
}

// connect runs the handshake against fc and registers Close as cleanup.
func connect(t *testing.T, fc *fakeController, cfg *config.Config) *Session {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := Connect(ctx, cfg, &config.Options{Transport: fc})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

// waitSent blocks until fc has seen n commands.
func waitSent(t *testing.T, fc *fakeController, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(fc.sentCommands()) >= n
	}, 2*time.Second, 5*time.Millisecond)
}
