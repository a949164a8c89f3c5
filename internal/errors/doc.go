// Package errors defines error types for the EXSI SDK.
//
// This package provides structured error types for the failure scenarios of
// a scanner session: transport loss, handshake rejection, conflicting
// commands, bad task references, teardown and timeouts. All error types
// support error unwrapping and can be checked using errors.Is, errors.As,
// and errors.AsType.
package errors
