package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	exsi "github.com/wagiedev/exsi-sdk-go"
)

// fakeController answers every command with "<Name>=ok", except for the
// overrides in replies. Scan is answered with an acquisition event.
type fakeController struct {
	mu      sync.Mutex
	sent    []string
	replies map[string][]string
	inbound chan string
}

var _ exsi.Transport = (*fakeController)(nil)

func newFakeController(replies map[string][]string) *fakeController {
	return &fakeController{replies: replies, inbound: make(chan string, 64)}
}

func (f *fakeController) Start(context.Context) error { return nil }

func (f *fakeController) ReadMessages(context.Context) (<-chan string, <-chan error) {
	return f.inbound, make(chan error)
}

func (f *fakeController) SendMessage(_ context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	payload := string(frame[16:])
	text := payload[strings.Index(payload[1:], ">")+2:]
	f.sent = append(f.sent, text)

	name, _, _ := strings.Cut(text, " ")

	replies, ok := f.replies[name]
	if !ok {
		replies = []string{name + "=ok"}
	}

	for _, r := range replies {
		f.inbound <- "<" + r
	}

	return nil
}

func (f *fakeController) Close() error  { return nil }
func (f *fakeController) IsReady() bool { return true }

func (f *fakeController) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.sent...)
}

func startClient(t *testing.T, ctrl *fakeController) exsi.Client {
	t.Helper()

	client := exsi.NewClient()
	t.Cleanup(func() { _ = client.Close() })

	err := client.Start(context.Background(),
		exsi.WithConfig(&exsi.Config{Host: "127.0.0.1", Product: "newHV", Password: "pw"}),
		exsi.WithTransport(ctrl),
	)
	require.NoError(t, err)

	return client
}

func TestRunScenario_AllTasks(t *testing.T) {
	ctrl := newFakeController(map[string][]string{
		"LoadProtocol": {"LoadProtocol=ok taskKeys=11,12"},
		"Scan":         {"acquisition=complete"},
		"GetExamInfo":  {"GetExamInfo=ok examNumber=42 patientId=P1"},
	})

	client := startClient(t, ctrl)

	var out bytes.Buffer

	err := runScenario(context.Background(), slog.New(slog.DiscardHandler), client, scenario{
		Protocol:    "BPT_EXSI",
		PrescanAuto: true,
		Scan:        true,
		WaitTimeout: 2 * time.Second,
	}, &out)
	require.NoError(t, err)

	var report scenarioReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Equal(t, "BPT_EXSI", report.Protocol)
	require.Equal(t, []string{"11", "12"}, report.TaskKeys)
	require.Equal(t, []string{"11", "12"}, report.Ran)
	require.Equal(t, "42", report.ExamInfo["examNumber"])

	require.Equal(t, []string{
		"ConnectToScanner product=newHV passwd=pw",
		"NotifyEvent all=on",
		"LoadProtocol protocol=BPT_EXSI",
		"SelectTask taskkey=11",
		"ActivateTask",
		"Prescan auto=on",
		"Scan",
		"SelectTask taskkey=12",
		"ActivateTask",
		"Prescan auto=on",
		"Scan",
		"GetExamInfo",
	}, ctrl.commands())
}

func TestRunScenario_SelectedTaskWithoutScan(t *testing.T) {
	ctrl := newFakeController(map[string][]string{
		"LoadProtocol": {"LoadProtocol=ok taskKeys=11,12"},
	})

	client := startClient(t, ctrl)

	var out bytes.Buffer

	err := runScenario(context.Background(), slog.New(slog.DiscardHandler), client, scenario{
		Protocol:    "BPT_EXSI",
		TaskKeys:    []string{"12"},
		WaitTimeout: 2 * time.Second,
	}, &out)
	require.NoError(t, err)

	cmds := ctrl.commands()
	require.Contains(t, cmds, "SelectTask taskkey=12")
	require.Contains(t, cmds, "Prescan auto=off")
	require.NotContains(t, cmds, "SelectTask taskkey=11")
	require.NotContains(t, cmds, "Scan")
}

func TestRunScenario_UnknownTask(t *testing.T) {
	ctrl := newFakeController(map[string][]string{
		"LoadProtocol": {"LoadProtocol=ok taskKeys=11"},
	})

	client := startClient(t, ctrl)

	err := runScenario(context.Background(), slog.New(slog.DiscardHandler), client, scenario{
		Protocol:    "BPT_EXSI",
		TaskKeys:    []string{"99"},
		WaitTimeout: 2 * time.Second,
	}, &bytes.Buffer{})

	_, ok := errors.AsType[*exsi.InvalidTaskError](err)
	require.True(t, ok, "expected InvalidTaskError, got %v", err)
}

func TestRunScenario_ProtocolNeverReady(t *testing.T) {
	ctrl := newFakeController(map[string][]string{
		"LoadProtocol": {"LoadProtocol=fail reason=unknown"},
	})

	client := startClient(t, ctrl)

	err := runScenario(context.Background(), slog.New(slog.DiscardHandler), client, scenario{
		Protocol:    "MISSING",
		WaitTimeout: 100 * time.Millisecond,
	}, &bytes.Buffer{})

	_, ok := errors.AsType[*exsi.TimeoutError](err)
	require.True(t, ok, "expected TimeoutError, got %v", err)
}

func TestConnect_HandshakeIsNotRetried(t *testing.T) {
	ctrl := newFakeController(map[string][]string{
		"ConnectToScanner": {"ConnectToScanner=fail reason=badpassword"},
	})

	_, err := connect(context.Background(), slog.New(slog.DiscardHandler), 5, []exsi.Option{
		exsi.WithConfig(&exsi.Config{Host: "127.0.0.1", Product: "newHV", HandshakeTimeout: time.Second}),
		exsi.WithTransport(ctrl),
	})

	_, ok := errors.AsType[*exsi.HandshakeError](err)
	require.True(t, ok, "expected HandshakeError, got %v", err)
	require.Len(t, ctrl.commands(), 1)
}
