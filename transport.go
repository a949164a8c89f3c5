package exsi

import (
	"log/slog"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/transport"
)

// Transport defines the interface for the controller connection.
// Implement this to provide custom transports for testing, mocking,
// or tunnelled connections.
//
// The default implementation is TCPTransport which dials the controller.
// Custom transports can be injected via WithTransport. They cannot be
// combined with WithIsolation.
type Transport = config.Transport

// TCPTransport is the default Transport.
type TCPTransport = transport.TCPTransport

// NewTCPTransport creates the default transport for cfg. The config should
// already have defaults applied.
func NewTCPTransport(log *slog.Logger, cfg *Config) *TCPTransport {
	if log == nil {
		log = NopLogger()
	}

	return transport.NewTCPTransport(log, cfg)
}
