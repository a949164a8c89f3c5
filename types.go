package exsi

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wagiedev/exsi-sdk-go/internal/cli"
	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/metrics"
	"github.com/wagiedev/exsi-sdk-go/internal/protocol"
	"github.com/wagiedev/exsi-sdk-go/internal/wire"
)

// Version is the SDK and worker protocol version.
const Version = cli.Version

// Re-export types from internal packages

// ===== Configuration =====

// Config is the connection record for one controller session.
type Config = config.Config

// ClientOptions configures a Client. Build it with Option functions.
type ClientOptions = config.ClientOptions

// BridgeOptions configures the worker process of an isolated client.
type BridgeOptions = config.BridgeOptions

// InFlightPolicy decides what happens to a command issued while another is
// awaiting acknowledgement.
type InFlightPolicy = config.InFlightPolicy

const (
	// InFlightReject fails the new command with BusyError. This is the
	// default.
	InFlightReject = config.InFlightReject
	// InFlightQueue holds the new command until the slot frees.
	InFlightQueue = config.InFlightQueue
)

// LoadConfig reads a YAML, JSON or TOML config file and applies EXSI_*
// environment overrides, defaults and validation. An empty path reads the
// environment only.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ConfigSchema returns the JSON Schema that configs are validated against.
func ConfigSchema() (*jsonschema.Schema, error) {
	return config.Schema()
}

// ===== Signals =====

// SignalName identifies one of the session's condition signals.
type SignalName = protocol.SignalName

const (
	// SignalConnected is set once the controller accepts the handshake.
	SignalConnected = protocol.SignalConnected
	// SignalCommandSent is set while a command awaits acknowledgement.
	SignalCommandSent = protocol.SignalCommandSent
	// SignalCommandAcknowledged is set when the last command was resolved.
	SignalCommandAcknowledged = protocol.SignalCommandAcknowledged
	// SignalProtocolReady is set when a protocol load completed.
	SignalProtocolReady = protocol.SignalProtocolReady
	// SignalAcquisitionComplete is set when an acquisition finished.
	SignalAcquisitionComplete = protocol.SignalAcquisitionComplete
)

// WaitResult is the outcome of WaitFor.
type WaitResult = protocol.WaitResult

const (
	// WaitSignaled means the signal was set.
	WaitSignaled = protocol.WaitSignaled
	// WaitTimedOut means the timeout or the context expired first.
	WaitTimedOut = protocol.WaitTimedOut
	// WaitClosed means the session closed while waiting.
	WaitClosed = protocol.WaitClosed
)

// ===== Commands =====

// Command is a raw controller command for Client.Send.
type Command = wire.Command

// CommandArg is one key=value argument of a Command.
type CommandArg = wire.Arg

// AckRule decides which inbound event resolves a command.
type AckRule = wire.AckRule

const (
	// AckOnReply resolves on the reply carrying the command's name.
	AckOnReply = wire.AckOnReply
	// AckOnAcquisition resolves when the acquisition completes.
	AckOnAcquisition = wire.AckOnAcquisition
	// AckImmediate resolves as soon as the command is written.
	AckImmediate = wire.AckImmediate
)

// NewCommand creates a command from a name and alternating key/value pairs.
func NewCommand(name string, kv ...string) Command {
	return wire.NewCommand(name, kv...)
}

// ===== Metrics =====

// Metrics records session and bridge activity as Prometheus metrics.
type Metrics = metrics.Collector

// NewMetrics creates a collector registered with reg. A nil reg leaves the
// collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return metrics.New(reg)
}
