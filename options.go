package exsi

import (
	"log/slog"
	"time"
)

// Option configures ClientOptions using the functional options pattern.
type Option func(*ClientOptions)

// applyOptions applies functional options to a ClientOptions struct.
func applyOptions(opts []Option) *ClientOptions {
	options := &ClientOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithConfig sets the controller connection record. Required.
func WithConfig(cfg *Config) Option {
	return func(o *ClientOptions) {
		o.Config = cfg
	}
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *ClientOptions) {
		o.Logger = logger
	}
}

// WithTransport replaces the default TCP transport. Useful for tests and
// tunnelled connections. Not allowed together with WithIsolation.
func WithTransport(transport Transport) Option {
	return func(o *ClientOptions) {
		o.Transport = transport
	}
}

// WithMetrics records session and bridge activity on m.
func WithMetrics(m *Metrics) Option {
	return func(o *ClientOptions) {
		o.Metrics = m
	}
}

// ===== Process Isolation =====

// WithIsolation hosts the session in a worker process. The worker is the
// running executable unless WithWorkerPath says otherwise; programs that
// use isolation must dispatch the "worker" argument to exsi.ServeWorker.
func WithIsolation() Option {
	return func(o *ClientOptions) {
		o.Isolated = true
	}
}

// WithWorkerPath sets the worker executable.
func WithWorkerPath(path string) Option {
	return func(o *ClientOptions) {
		o.Bridge.WorkerPath = path
	}
}

// WithWorkerArgs sets the worker arguments. Defaults to ["worker"].
func WithWorkerArgs(args ...string) Option {
	return func(o *ClientOptions) {
		o.Bridge.WorkerArgs = args
	}
}

// WithWorkerEnv provides additional environment variables for the worker.
func WithWorkerEnv(env map[string]string) Option {
	return func(o *ClientOptions) {
		o.Bridge.Env = env
	}
}

// WithWorkerCwd sets the working directory of the worker.
func WithWorkerCwd(cwd string) Option {
	return func(o *ClientOptions) {
		o.Bridge.Cwd = cwd
	}
}

// WithSkipVersionCheck skips the worker version check during discovery.
func WithSkipVersionCheck(skip bool) Option {
	return func(o *ClientOptions) {
		o.Bridge.SkipVersionCheck = skip
	}
}

// WithLogSink receives every line the worker writes to stderr. Without a
// sink the lines go to the logger at info level.
func WithLogSink(sink func(line string)) Option {
	return func(o *ClientOptions) {
		o.Bridge.LogSink = sink
	}
}

// WithCallTimeout bounds each bridge call. WaitFor calls get their own
// timeout added on top.
func WithCallTimeout(d time.Duration) Option {
	return func(o *ClientOptions) {
		o.Bridge.CallTimeout = d
	}
}

// WithShutdownGrace sets how long Close waits for the worker to exit before
// killing it.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *ClientOptions) {
		o.Bridge.ShutdownGrace = d
	}
}
