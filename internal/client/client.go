package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/bridge"
	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/protocol"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

// errMissingConfig is returned by Start when no connection record is given.
var errMissingConfig = stderrors.New("client options: config is required")

// errIsolatedTransport is returned by Start when isolation is combined with a
// custom transport, which cannot cross the process boundary.
var errIsolatedTransport = stderrors.New("client options: custom transport cannot be used with an isolated session")

// backend is the operation surface shared by an in-process session and a
// worker reached over the bridge.
type backend interface {
	LoadProtocol(ctx context.Context, name string) error
	SelectTask(ctx context.Context, index int) error
	SelectTaskKey(ctx context.Context, key string) error
	SelectNextTask(ctx context.Context) error
	ActivateTask(ctx context.Context) error
	PatientTable(ctx context.Context) error
	Prescan(ctx context.Context, auto bool) error
	Scan(ctx context.Context) error
	SetCV(ctx context.Context, name string, value float64) error
	SetCenterFrequency(ctx context.Context, hz int64) error
	SetShimValues(ctx context.Context, x, y, z int) error
	GetPrescanValues(ctx context.Context) error
	RequestExamInfo(ctx context.Context) error
	Send(ctx context.Context, cmd wire.Command) error
	WaitFor(ctx context.Context, name protocol.SignalName, timeout time.Duration) (protocol.WaitResult, error)
	TaskKeys(ctx context.Context) ([]string, error)
	ExamInfo(ctx context.Context) (map[string]string, error)
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Client drives one controller session, either in-process or through an
// isolated worker.
type Client struct {
	log *slog.Logger

	mu        sync.Mutex
	backend   backend
	isolated  bool
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a client. The client is not connected after creation; call
// Start to connect.
func New() *Client {
	return &Client{log: slog.New(slog.DiscardHandler)}
}

// Start validates the config and performs the controller handshake, in a
// freshly spawned worker when options.Isolated is set.
//
// Returns TransportError if the controller is unreachable, HandshakeError
// if it rejects the handshake and WorkerNotFoundError if no worker
// executable can be located.
func (c *Client) Start(ctx context.Context, options *config.ClientOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrSessionClosed
	}

	if c.backend != nil {
		return errors.ErrAlreadyConnected
	}

	if options == nil || options.Config == nil {
		return errMissingConfig
	}

	if options.Logger != nil {
		c.log = options.Logger.With("component", "client")
	}

	cfg := options.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	var (
		b   backend
		err error
	)

	if options.Isolated {
		b, err = c.startIsolated(ctx, &cfg, options)
	} else {
		b, err = c.startLocal(ctx, &cfg, options)
	}

	if err != nil {
		return err
	}

	c.backend = b
	c.isolated = options.Isolated

	c.log.Info("Client connected", "address", cfg.Address(), "isolated", options.Isolated)

	return nil
}

func (c *Client) startLocal(ctx context.Context, cfg *config.Config, options *config.ClientOptions) (backend, error) {
	s, err := protocol.Connect(ctx, cfg, &options.Options)
	if err != nil {
		return nil, err
	}

	return localBackend{Session: s}, nil
}

func (c *Client) startIsolated(ctx context.Context, cfg *config.Config, options *config.ClientOptions) (backend, error) {
	if options.Transport != nil {
		return nil, errIsolatedTransport
	}

	bo := options.Bridge
	if bo.Logger == nil {
		bo.Logger = options.Logger
	}

	if bo.Metrics == nil {
		bo.Metrics = options.Metrics
	}

	br, err := bridge.Start(ctx, &bo)
	if err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	ib := isolatedBackend{Client: bridge.NewClient(br), bridge: br}

	if err := ib.Connect(ctx, cfg); err != nil {
		if stopErr := br.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			c.log.Warn("Failed to stop worker after connect error", "error", stopErr)
		}

		return nil, err
	}

	return ib, nil
}

// current returns the backend or the error describing why there is none.
func (c *Client) current() (backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.ErrSessionClosed
	}

	if c.backend == nil {
		return nil, errors.ErrNotConnected
	}

	return c.backend, nil
}

// LoadProtocol issues LoadProtocol.
func (c *Client) LoadProtocol(ctx context.Context, name string) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.LoadProtocol(ctx, name)
}

// SelectTask selects the task at index of the current task key set.
func (c *Client) SelectTask(ctx context.Context, index int) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.SelectTask(ctx, index)
}

// SelectTaskKey selects a task by key.
func (c *Client) SelectTaskKey(ctx context.Context, key string) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.SelectTaskKey(ctx, key)
}

// SelectNextTask advances the task cursor.
func (c *Client) SelectNextTask(ctx context.Context) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.SelectNextTask(ctx)
}

// ActivateTask activates the selected task.
func (c *Client) ActivateTask(ctx context.Context) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.ActivateTask(ctx)
}

// PatientTable moves the patient table.
func (c *Client) PatientTable(ctx context.Context) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.PatientTable(ctx)
}

// Prescan runs the prescan.
func (c *Client) Prescan(ctx context.Context, auto bool) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.Prescan(ctx, auto)
}

// Scan starts the acquisition.
func (c *Client) Scan(ctx context.Context) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.Scan(ctx)
}

// SetCV sets one control variable.
func (c *Client) SetCV(ctx context.Context, name string, value float64) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.SetCV(ctx, name, value)
}

// SetCenterFrequency sets the center frequency in Hz.
func (c *Client) SetCenterFrequency(ctx context.Context, hz int64) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.SetCenterFrequency(ctx, hz)
}

// SetShimValues sets the linear shims.
func (c *Client) SetShimValues(ctx context.Context, x, y, z int) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.SetShimValues(ctx, x, y, z)
}

// GetPrescanValues asks the controller for the prescan values.
func (c *Client) GetPrescanValues(ctx context.Context) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.GetPrescanValues(ctx)
}

// RequestExamInfo asks the controller for the exam metadata.
func (c *Client) RequestExamInfo(ctx context.Context) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.RequestExamInfo(ctx)
}

// Send writes a raw command.
func (c *Client) Send(ctx context.Context, cmd wire.Command) error {
	b, err := c.current()
	if err != nil {
		return err
	}

	return b.Send(ctx, cmd)
}

// WaitFor blocks until the named signal is set, timeout elapses or the
// session closes.
func (c *Client) WaitFor(ctx context.Context, name protocol.SignalName, timeout time.Duration) (protocol.WaitResult, error) {
	b, err := c.current()
	if err != nil {
		return protocol.WaitClosed, err
	}

	return b.WaitFor(ctx, name, timeout)
}

// TaskKeys returns the current task key set.
func (c *Client) TaskKeys(ctx context.Context) ([]string, error) {
	b, err := c.current()
	if err != nil {
		return nil, err
	}

	return b.TaskKeys(ctx)
}

// ExamInfo returns the exam metadata reported so far.
func (c *Client) ExamInfo(ctx context.Context) (map[string]string, error) {
	b, err := c.current()
	if err != nil {
		return nil, err
	}

	return b.ExamInfo(ctx)
}

// Done is closed when the session or worker ends. Before Start it returns
// nil, which blocks forever in a select.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		return nil
	}

	return c.backend.Done()
}

// Err returns the error that ended the session, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.backend == nil {
		return nil
	}

	return c.backend.Err()
}

// Isolated reports whether the session runs in a worker process.
func (c *Client) Isolated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isolated
}

// Close ends the session and, for an isolated client, stops the worker.
// It's safe to call Close multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		b := c.backend
		c.mu.Unlock()

		if b == nil {
			return
		}

		c.closeErr = b.Close()

		c.log.Info("Client closed")
	})

	return c.closeErr
}

// localBackend adapts an in-process session to the backend surface.
type localBackend struct {
	*protocol.Session
}

func (b localBackend) WaitFor(ctx context.Context, name protocol.SignalName, timeout time.Duration) (protocol.WaitResult, error) {
	return b.Session.WaitFor(ctx, name, timeout), nil
}

func (b localBackend) TaskKeys(context.Context) ([]string, error) {
	return b.Session.TaskKeys(), nil
}

func (b localBackend) ExamInfo(context.Context) (map[string]string, error) {
	return b.Session.ExamInfo(), nil
}

// isolatedBackend drives a session hosted in a worker process.
type isolatedBackend struct {
	*bridge.Client

	bridge *bridge.Bridge
}

func (b isolatedBackend) Done() <-chan struct{} {
	return b.bridge.Done()
}

func (b isolatedBackend) Err() error {
	return b.bridge.Err()
}

func (b isolatedBackend) Close() error {
	return b.bridge.Stop(context.Background())
}
