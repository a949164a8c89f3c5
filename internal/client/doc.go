// Package client implements the Client behind the public exsi API.
//
// A Client owns exactly one controller session. By default the session runs
// in-process on a protocol.Session; with isolation enabled it runs in a
// worker process started through the bridge package, and every operation
// becomes a bridge call. Both paths expose the same methods and return the
// same typed errors.
package client
