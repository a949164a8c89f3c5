package config

import (
	"log/slog"
	"time"

	"github.com/wagiedev/exsi-sdk-go/internal/metrics"
)

// Bridge defaults applied by BridgeOptions.WithDefaults.
const (
	DefaultCallTimeout   = 30 * time.Second
	DefaultShutdownGrace = 5 * time.Second
	DefaultWorkerCommand = "worker"
)

// Options configures an in-process session.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Transport overrides the default TCP transport. Used by tests and by
	// callers that tunnel the controller connection.
	Transport Transport

	// Metrics records session activity. If nil, nothing is recorded.
	Metrics *metrics.Collector
}

// BridgeOptions configures the process isolation bridge.
type BridgeOptions struct {
	// Logger receives bridge diagnostics on the caller side.
	Logger *slog.Logger

	// WorkerPath is the executable hosting the worker. If empty, the running
	// executable is used, then "exsi" on PATH.
	WorkerPath string

	// WorkerArgs are the arguments passed to the worker executable.
	// Defaults to ["worker"].
	WorkerArgs []string

	// SkipVersionCheck skips running "<worker> version" during discovery.
	// Can also be controlled via the EXSI_SKIP_VERSION_CHECK env var.
	SkipVersionCheck bool

	// Env provides additional environment variables for the worker process.
	Env map[string]string

	// Cwd sets the working directory of the worker process.
	Cwd string

	// LogSink receives every line the worker writes to stderr. If nil,
	// lines are logged through Logger at info level.
	LogSink func(line string)

	// CallTimeout bounds each call when the caller's context has no
	// earlier deadline.
	CallTimeout time.Duration

	// ShutdownGrace is how long Stop waits for an orderly worker exit
	// before killing it.
	ShutdownGrace time.Duration

	// Metrics records bridge call activity. If nil, nothing is recorded.
	Metrics *metrics.Collector
}

// WithDefaults returns a copy with zero fields defaulted.
func (o BridgeOptions) WithDefaults() BridgeOptions {
	if len(o.WorkerArgs) == 0 {
		o.WorkerArgs = []string{DefaultWorkerCommand}
	}

	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}

	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}

	return o
}

// ClientOptions configures the public client.
type ClientOptions struct {
	Options

	// Config is the controller connection record. Required.
	Config *Config

	// Isolated hosts the session in a worker process reached over the
	// bridge. A custom Transport cannot be combined with isolation.
	Isolated bool

	// Bridge configures the worker when Isolated is set. Logger and Metrics
	// fall back to the client's.
	Bridge BridgeOptions
}
