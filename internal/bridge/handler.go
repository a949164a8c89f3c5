package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wagiedev/exsi-sdk-go/internal/cli"
	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/errors"
	"github.com/wagiedev/exsi-sdk-go/internal/metrics"
	"github.com/wagiedev/exsi-sdk-go/internal/protocol"
)

// HandlerOptions configures a SessionHandler.
type HandlerOptions struct {
	// Logger receives worker diagnostics. If nil, logging is disabled.
	Logger *slog.Logger

	// Metrics records session activity inside the worker.
	Metrics *metrics.Collector

	// Transport builds the controller transport for a connect request.
	// If nil, the session dials TCP.
	Transport func(cfg *config.Config) config.Transport
}

// SessionHandler serves bridge requests against one protocol session. The
// session is created by the connect request; every other method fails with
// ErrNotConnected until then.
type SessionHandler struct {
	log  *slog.Logger
	opts HandlerOptions

	mu      sync.Mutex
	session *protocol.Session
}

// Compile-time verification that SessionHandler implements Handler.
var _ Handler = (*SessionHandler)(nil)

// NewSessionHandler creates a handler with no session.
func NewSessionHandler(opts HandlerOptions) *SessionHandler {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &SessionHandler{
		log:  log.With("component", "session_handler"),
		opts: opts,
	}
}

// Handle implements Handler.
func (h *SessionHandler) Handle(ctx context.Context, req Request) (any, error) {
	if r, ok := req.(*ConnectRequest); ok {
		return nil, h.connect(ctx, r)
	}

	if _, ok := req.(*PingRequest); ok {
		return h.ping(), nil
	}

	s, err := h.current()
	if err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case *LoadProtocolRequest:
		return nil, s.LoadProtocol(ctx, r.Protocol)

	case *SelectTaskRequest:
		if r.Key != "" {
			return nil, s.SelectTaskKey(ctx, r.Key)
		}

		return nil, s.SelectTask(ctx, r.Index)

	case *SelectNextTaskRequest:
		return nil, s.SelectNextTask(ctx)

	case *ActivateTaskRequest:
		return nil, s.ActivateTask(ctx)

	case *PatientTableRequest:
		return nil, s.PatientTable(ctx)

	case *PrescanRequest:
		return nil, s.Prescan(ctx, r.Auto)

	case *ScanRequest:
		return nil, s.Scan(ctx)

	case *SetCVRequest:
		return nil, s.SetCV(ctx, r.Name, r.Value)

	case *SetCenterFrequencyRequest:
		return nil, s.SetCenterFrequency(ctx, r.Hz)

	case *SetShimValuesRequest:
		return nil, s.SetShimValues(ctx, r.X, r.Y, r.Z)

	case *GetPrescanValuesRequest:
		return nil, s.GetPrescanValues(ctx)

	case *RequestExamInfoRequest:
		return nil, s.RequestExamInfo(ctx)

	case *SendRequest:
		return nil, s.Send(ctx, r.Command())

	case *WaitForRequest:
		name, err := protocol.ParseSignalName(r.Signal)
		if err != nil {
			return nil, err
		}

		result := s.WaitFor(ctx, name, r.Timeout)

		// The serving context only ends on shutdown.
		if result == protocol.WaitTimedOut && ctx.Err() != nil {
			return nil, &errors.ShutdownError{Op: r.Method()}
		}

		return &WaitForResult{Result: result.String()}, nil

	case *GetTaskKeysRequest:
		return &TaskKeysResult{TaskKeys: s.TaskKeys()}, nil

	case *GetExamInfoRequest:
		return &ExamInfoResult{ExamInfo: s.ExamInfo()}, nil

	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownMethod, req.Method())
	}
}

// connect runs the handshake. A session that has already closed may be
// replaced; a live one may not.
func (h *SessionHandler) connect(ctx context.Context, r *ConnectRequest) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session != nil {
		select {
		case <-h.session.Done():
			h.log.Info("Replacing closed session")
		default:
			return errors.ErrAlreadyConnected
		}
	}

	cfg := r.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts := &config.Options{
		Logger:  h.log,
		Metrics: h.opts.Metrics,
	}

	if h.opts.Transport != nil {
		opts.Transport = h.opts.Transport(&cfg)
	}

	h.log.Info("Connecting to controller", "address", cfg.Address(), "product", cfg.Product)

	s, err := protocol.Connect(ctx, &cfg, opts)
	if err != nil {
		return err
	}

	h.session = s

	return nil
}

func (h *SessionHandler) current() (*protocol.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil {
		return nil, errors.ErrNotConnected
	}

	return h.session, nil
}

func (h *SessionHandler) ping() *PingResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := &PingResult{Version: cli.Version}

	if h.session != nil {
		select {
		case <-h.session.Done():
		default:
			result.Connected = true
			result.InFlight = h.session.InFlight()
		}
	}

	return result
}

// Close closes the session, if any.
func (h *SessionHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.session == nil {
		return nil
	}

	h.log.Info("Closing session")

	return h.session.Close()
}
