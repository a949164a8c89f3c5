package exsi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// nullController implements Transport and acknowledges every command.
type nullController struct {
	inbound chan string
}

func (n *nullController) Start(context.Context) error { return nil }

func (n *nullController) ReadMessages(context.Context) (<-chan string, <-chan error) {
	return n.inbound, make(chan error)
}

func (n *nullController) SendMessage(_ context.Context, frame []byte) error {
	payload := string(frame[16:])
	text := payload[strings.Index(payload[1:], ">")+2:]
	name, _, _ := strings.Cut(text, " ")

	n.inbound <- "<" + name + "=ok"

	return nil
}

func (n *nullController) Close() error  { return nil }
func (n *nullController) IsReady() bool { return true }

func TestServeWorker_ConnectAndPing(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	done := make(chan error, 1)

	go func() {
		err := serveWorker(context.Background(), inR, outW,
			WithTransport(&nullController{inbound: make(chan string, 16)}),
		)
		_ = outW.Close()
		done <- err
	}()

	scanner := bufio.NewScanner(outR)

	call := func(id, method string, params any) map[string]any {
		t.Helper()

		raw, err := json.Marshal(params)
		require.NoError(t, err)

		line, err := json.Marshal(map[string]any{"id": id, "method": method, "params": json.RawMessage(raw)})
		require.NoError(t, err)

		_, err = inW.Write(append(line, '\n'))
		require.NoError(t, err)

		require.True(t, scanner.Scan())

		var resp map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		require.Equal(t, id, resp["id"])

		return resp
	}

	resp := call("1", "connect", map[string]any{"config": map[string]any{
		"host":     "127.0.0.1",
		"product":  "newHV",
		"password": "secret",
	}})
	require.Nil(t, resp["error"], "connect failed: %v", resp["error"])

	resp = call("2", "ping", map[string]any{})
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, Version, result["version"])
	require.Equal(t, true, result["connected"])

	require.NoError(t, inW.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop at end of input")
	}
}
