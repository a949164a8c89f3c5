// Command exsi drives an EXSI scanner controller from the command line.
//
// It also hosts the worker process of isolated clients ("exsi worker") and
// exposes the session as MCP tools ("exsi mcp").
package main

func main() {
	Execute()
}
