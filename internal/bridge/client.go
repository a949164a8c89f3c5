package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/protocol"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

// Caller is the call surface of a Bridge.
type Caller interface {
	Call(ctx context.Context, req Request) (json.RawMessage, error)
}

// Client exposes the session operations of a worker as typed methods.
type Client struct {
	caller Caller
}

// NewClient wraps a Caller, normally a *Bridge.
func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

// Connect performs the controller handshake in the worker.
func (c *Client) Connect(ctx context.Context, cfg *config.Config) error {
	return c.do(ctx, &ConnectRequest{Config: *cfg})
}

// LoadProtocol issues LoadProtocol in the worker's session.
func (c *Client) LoadProtocol(ctx context.Context, name string) error {
	return c.do(ctx, &LoadProtocolRequest{Protocol: name})
}

// SelectTask selects the task at index.
func (c *Client) SelectTask(ctx context.Context, index int) error {
	return c.do(ctx, &SelectTaskRequest{Index: index})
}

// SelectTaskKey selects a task by key.
func (c *Client) SelectTaskKey(ctx context.Context, key string) error {
	return c.do(ctx, &SelectTaskRequest{Key: key})
}

// SelectNextTask advances the task cursor.
func (c *Client) SelectNextTask(ctx context.Context) error {
	return c.do(ctx, &SelectNextTaskRequest{})
}

// ActivateTask activates the selected task.
func (c *Client) ActivateTask(ctx context.Context) error {
	return c.do(ctx, &ActivateTaskRequest{})
}

// PatientTable moves the patient table.
func (c *Client) PatientTable(ctx context.Context) error {
	return c.do(ctx, &PatientTableRequest{})
}

// Prescan runs the prescan.
func (c *Client) Prescan(ctx context.Context, auto bool) error {
	return c.do(ctx, &PrescanRequest{Auto: auto})
}

// Scan starts the acquisition.
func (c *Client) Scan(ctx context.Context) error {
	return c.do(ctx, &ScanRequest{})
}

// SetCV sets one control variable.
func (c *Client) SetCV(ctx context.Context, name string, value float64) error {
	return c.do(ctx, &SetCVRequest{Name: name, Value: value})
}

// SetCenterFrequency sets the center frequency in Hz.
func (c *Client) SetCenterFrequency(ctx context.Context, hz int64) error {
	return c.do(ctx, &SetCenterFrequencyRequest{Hz: hz})
}

// SetShimValues sets the linear shims.
func (c *Client) SetShimValues(ctx context.Context, x, y, z int) error {
	return c.do(ctx, &SetShimValuesRequest{X: x, Y: y, Z: z})
}

// GetPrescanValues asks the controller for the prescan values.
func (c *Client) GetPrescanValues(ctx context.Context) error {
	return c.do(ctx, &GetPrescanValuesRequest{})
}

// RequestExamInfo asks the controller for the exam metadata.
func (c *Client) RequestExamInfo(ctx context.Context) error {
	return c.do(ctx, &RequestExamInfoRequest{})
}

// Send writes a raw command. Only AckImmediate survives the bridge; any
// other rule is treated as AckOnReply.
func (c *Client) Send(ctx context.Context, cmd wire.Command) error {
	req := &SendRequest{Name: cmd.Name, NoAck: cmd.Ack == wire.AckImmediate}
	for _, a := range cmd.Args {
		req.Args = append(req.Args, Arg{Key: a.Key, Value: a.Value})
	}

	return c.do(ctx, req)
}

// WaitFor blocks in the worker until the signal is set, timeout elapses or
// the session closes.
func (c *Client) WaitFor(ctx context.Context, name protocol.SignalName, timeout time.Duration) (protocol.WaitResult, error) {
	res, err := call[WaitForResult](ctx, c.caller, &WaitForRequest{Signal: string(name), Timeout: timeout})
	if err != nil {
		return protocol.WaitTimedOut, err
	}

	return protocol.ParseWaitResult(res.Result)
}

// TaskKeys returns the worker session's task key set.
func (c *Client) TaskKeys(ctx context.Context) ([]string, error) {
	res, err := call[TaskKeysResult](ctx, c.caller, &GetTaskKeysRequest{})
	if err != nil {
		return nil, err
	}

	return res.TaskKeys, nil
}

// ExamInfo returns the worker session's exam metadata.
func (c *Client) ExamInfo(ctx context.Context) (map[string]string, error) {
	res, err := call[ExamInfoResult](ctx, c.caller, &GetExamInfoRequest{})
	if err != nil {
		return nil, err
	}

	return res.ExamInfo, nil
}

// Ping checks the worker is alive.
func (c *Client) Ping(ctx context.Context) (*PingResult, error) {
	res, err := call[PingResult](ctx, c.caller, &PingRequest{})
	if err != nil {
		return nil, err
	}

	return &res, nil
}

func (c *Client) do(ctx context.Context, req Request) error {
	_, err := c.caller.Call(ctx, req)

	return err
}

func call[T any](ctx context.Context, caller Caller, req Request) (T, error) {
	var out T

	raw, err := caller.Call(ctx, req)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", req.Method(), err)
	}

	return out, nil
}
