// Package config provides configuration types for the EXSI SDK.
package config

import "context"

// Transport defines the interface for the controller connection.
// Implement this to provide custom transports for testing, mocking,
// or alternative communication methods (e.g., tunnelled connections).
//
// The default implementation is TCPTransport which dials the controller.
// Custom transports can be injected via Options.Transport.
type Transport interface {
	// Start opens the connection. Called once before any messages flow.
	Start(ctx context.Context) error

	// ReadMessages returns channels for receiving inbound payload text and
	// errors. Frames are already stripped of their binary header.
	// Both channels are closed when reading completes or an error occurs.
	ReadMessages(ctx context.Context) (<-chan string, <-chan error)

	// SendMessage writes one complete outbound frame.
	// This method must be safe for concurrent use.
	SendMessage(ctx context.Context, frame []byte) error

	// Close terminates the connection and releases resources.
	// It's safe to call Close multiple times.
	Close() error

	// IsReady returns true if the transport is ready for communication.
	IsReady() bool
}
