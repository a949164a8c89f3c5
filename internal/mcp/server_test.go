package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/protocol"
)

type fakeScanner struct {
	mu    sync.Mutex
	calls []string
	cfg   *config.Config

	fail     error
	keys     []string
	waitWith protocol.WaitResult
	waitArgs []time.Duration
}

var _ Scanner = (*fakeScanner)(nil)

func (f *fakeScanner) record(format string, args ...any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf(format, args...))

	return f.fail
}

func (f *fakeScanner) Connect(_ context.Context, cfg *config.Config) error {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()

	return f.record("connect %s", cfg.Address())
}

func (f *fakeScanner) LoadProtocol(_ context.Context, name string) error {
	return f.record("load %s", name)
}

func (f *fakeScanner) SelectTask(_ context.Context, index int) error {
	return f.record("select %d", index)
}

func (f *fakeScanner) SelectTaskKey(_ context.Context, key string) error {
	return f.record("select key %s", key)
}

func (f *fakeScanner) SelectNextTask(context.Context) error { return f.record("next") }
func (f *fakeScanner) ActivateTask(context.Context) error   { return f.record("activate") }
func (f *fakeScanner) PatientTable(context.Context) error   { return f.record("table") }
func (f *fakeScanner) Scan(context.Context) error           { return f.record("scan") }

func (f *fakeScanner) Prescan(_ context.Context, auto bool) error {
	return f.record("prescan %t", auto)
}

func (f *fakeScanner) SetCV(_ context.Context, name string, value float64) error {
	return f.record("cv %s=%g", name, value)
}

func (f *fakeScanner) SetCenterFrequency(_ context.Context, hz int64) error {
	return f.record("cf %d", hz)
}

func (f *fakeScanner) SetShimValues(_ context.Context, x, y, z int) error {
	return f.record("shim %d %d %d", x, y, z)
}

func (f *fakeScanner) GetPrescanValues(context.Context) error { return f.record("prescan values") }
func (f *fakeScanner) RequestExamInfo(context.Context) error  { return f.record("exam info") }

func (f *fakeScanner) WaitFor(_ context.Context, name protocol.SignalName, timeout time.Duration) (protocol.WaitResult, error) {
	f.mu.Lock()
	f.waitArgs = append(f.waitArgs, timeout)
	f.mu.Unlock()

	if err := f.record("wait %s", name); err != nil {
		return protocol.WaitTimedOut, err
	}

	return f.waitWith, nil
}

func (f *fakeScanner) TaskKeys(context.Context) ([]string, error) {
	return f.keys, f.record("task keys")
}

func (f *fakeScanner) ExamInfo(context.Context) (map[string]string, error) {
	return map[string]string{"patientName": "Phantom"}, f.record("exam")
}

func (f *fakeScanner) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.calls...)
}

func newTestServer(t *testing.T, scanner *fakeScanner) *ToolServer {
	t.Helper()

	s, err := NewToolServer(nil, scanner, &config.Config{
		Host:    "scanner.local",
		Port:    8895,
		Product: "newHV",
	}, "test")
	require.NoError(t, err)

	return s
}

func TestToolServer_ToolNames(t *testing.T) {
	s := newTestServer(t, &fakeScanner{})

	require.Equal(t, []string{
		"activate_task",
		"connect",
		"exam_info",
		"get_prescan_values",
		"load_protocol",
		"patient_table",
		"prescan",
		"request_exam_info",
		"scan",
		"select_next_task",
		"select_task",
		"set_center_frequency",
		"set_cv",
		"set_shim_values",
		"task_keys",
		"wait_for",
	}, s.ToolNames())
}

func TestToolServer_InputSchemas(t *testing.T) {
	s := newTestServer(t, &fakeScanner{})

	tool, ok := s.Tool("load_protocol")
	require.True(t, ok)
	require.Equal(t, "load_protocol", tool.Name)
	require.NotEmpty(t, tool.Description)

	wait, ok := s.Tool("wait_for")
	require.True(t, ok)

	data := mustJSON(t, wait.InputSchema)
	require.Contains(t, data, `"protocol-ready"`)
	require.Contains(t, data, `"acquisition-complete"`)

	_, ok = s.Tool("reboot")
	require.False(t, ok)
}

func TestToolServer_CommandTools(t *testing.T) {
	scanner := &fakeScanner{}
	s := newTestServer(t, scanner)
	ctx := context.Background()

	calls := []struct {
		tool  string
		input map[string]any
	}{
		{"load_protocol", map[string]any{"protocol": "BPT_EXSI"}},
		{"select_task", map[string]any{"index": 2}},
		{"select_task", map[string]any{"key": "104"}},
		{"select_next_task", nil},
		{"activate_task", nil},
		{"patient_table", nil},
		{"prescan", map[string]any{"auto": true}},
		{"scan", nil},
		{"set_cv", map[string]any{"name": "flipAngle", "value": 30.5}},
		{"set_center_frequency", map[string]any{"hz": 63860000}},
		{"set_shim_values", map[string]any{"x": 1, "y": -2, "z": 3}},
		{"get_prescan_values", nil},
		{"request_exam_info", nil},
	}

	for _, c := range calls {
		result := s.CallTool(ctx, c.tool, c.input)
		require.False(t, result.IsError, "%s: %s", c.tool, ResultText(result))
		require.Equal(t, "ok", ResultText(result))
	}

	require.Equal(t, []string{
		"load BPT_EXSI",
		"select 2",
		"select key 104",
		"next",
		"activate",
		"table",
		"prescan true",
		"scan",
		"cv flipAngle=30.5",
		"cf 63860000",
		"shim 1 -2 3",
		"prescan values",
		"exam info",
	}, scanner.recorded())
}

func TestToolServer_ConnectMergesDefaults(t *testing.T) {
	scanner := &fakeScanner{}
	s := newTestServer(t, scanner)

	result := s.CallTool(context.Background(), "connect", map[string]any{"password": "secret", "port": 9000})
	require.False(t, result.IsError, ResultText(result))

	require.Equal(t, "scanner.local", scanner.cfg.Host)
	require.Equal(t, 9000, scanner.cfg.Port)
	require.Equal(t, "newHV", scanner.cfg.Product)
	require.Equal(t, "secret", scanner.cfg.Password)
}

func TestToolServer_ScannerErrorIsToolError(t *testing.T) {
	scanner := &fakeScanner{fail: &errors.BusyError{Command: "Scan", InFlight: "Prescan"}}
	s := newTestServer(t, scanner)

	result := s.CallTool(context.Background(), "scan", nil)
	require.True(t, result.IsError)
	require.Contains(t, ResultText(result), "Prescan")
}

func TestToolServer_ArgumentErrors(t *testing.T) {
	s := newTestServer(t, &fakeScanner{})
	ctx := context.Background()

	result := s.CallTool(ctx, "load_protocol", map[string]any{})
	require.True(t, result.IsError)

	result = s.CallTool(ctx, "prescan", map[string]any{"auto": "yes"})
	require.True(t, result.IsError)

	result = s.CallTool(ctx, "wait_for", map[string]any{"signal": "ready"})
	require.True(t, result.IsError)

	result = s.CallTool(ctx, "reboot", nil)
	require.True(t, result.IsError)
	require.Equal(t, "Tool not found: reboot", ResultText(result))
}

func TestToolServer_WaitFor(t *testing.T) {
	scanner := &fakeScanner{waitWith: protocol.WaitSignaled}
	s := newTestServer(t, scanner)
	ctx := context.Background()

	result := s.CallTool(ctx, "wait_for", map[string]any{"signal": "protocol-ready", "timeout_ms": 1500})
	require.False(t, result.IsError, ResultText(result))
	require.Equal(t, "signaled", ResultText(result))

	result = s.CallTool(ctx, "wait_for", map[string]any{"signal": "acquisition-complete"})
	require.False(t, result.IsError)

	require.Equal(t, []time.Duration{1500 * time.Millisecond, DefaultWaitTimeout}, scanner.waitArgs)
}

func TestToolServer_ReadTools(t *testing.T) {
	s := newTestServer(t, &fakeScanner{keys: []string{"103", "104"}})
	ctx := context.Background()

	result := s.CallTool(ctx, "task_keys", nil)
	require.False(t, result.IsError)
	require.JSONEq(t, `{"task_keys":["103","104"]}`, ResultText(result))

	result = s.CallTool(ctx, "exam_info", nil)
	require.False(t, result.IsError)
	require.JSONEq(t, `{"patientName":"Phantom"}`, ResultText(result))

	empty := newTestServer(t, &fakeScanner{})
	result = empty.CallTool(ctx, "task_keys", nil)
	require.JSONEq(t, `{"task_keys":[]}`, ResultText(result))
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return string(data)
}
