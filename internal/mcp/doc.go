// Package mcp exposes a scanner session as Model Context Protocol tools.
//
// A ToolServer registers one tool per session operation (connect,
// load_protocol, select_task, scan, wait_for, ...) on an MCP SDK server and
// keeps its own registry so tools can also be invoked directly. The tools
// drive a Scanner, normally a bridge client talking to an isolated worker.
//
// Controller failures are reported as tool results with IsError set rather
// than as protocol errors, so the calling model sees the controller's reason.
package mcp
