package bridge

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

// fakeController implements config.Transport and answers the scanner
// commands the tests issue. Scan is never acknowledged so it holds the
// in-flight slot.
type fakeController struct {
	mu      sync.Mutex
	sent    []string
	replies map[string][]string
	closed  bool
	inbound chan string
}

var _ config.Transport = (*fakeController)(nil)

func newFakeController() *fakeController {
	return &fakeController{
		inbound: make(chan string, 64),
		replies: map[string][]string{
			"ConnectToScanner": {"ConnectToScanner=ok"},
			"NotifyEvent":      {"NotifyEvent=ok"},
			"LoadProtocol":     {"LoadProtocol=ok taskKeys=103,104,105"},
			"SelectTask":       {"SelectTask=ok"},
			"ActivateTask":     {"ActivateTask=ok"},
			"GetExamInfo":      {"GetExamInfo=ok patientName=Phantom examNumber=42"},
			"SetCVs":           {"SetCVs=fail reason=locked"},
		},
	}
}

func (f *fakeController) Start(context.Context) error { return nil }

func (f *fakeController) ReadMessages(context.Context) (<-chan string, <-chan error) {
	return f.inbound, make(chan error)
}

func (f *fakeController) SendMessage(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	payload := string(frame[wire.HeaderSize:])
	text := payload[strings.Index(payload[1:], ">")+2:]

	f.sent = append(f.sent, text)

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

	return append([]string(nil), f.sent...)
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
