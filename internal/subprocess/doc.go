// Package subprocess runs the bridge worker as a child process.
//
// Process spawns the worker discovered by the cli package and exchanges
// newline-delimited messages over its stdin and stdout. The worker's stderr
// is relayed line by line to a callback. Closing stdin is the worker's
// shutdown signal; Close kills it.
package subprocess
