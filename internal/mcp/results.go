package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// ErrorResult creates a CallToolResult indicating an error.
func ErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: message},
		},
		IsError: true,
	}
}

// JSONResult creates a CallToolResult carrying v as indented JSON text.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to marshal result: %v", err))
	}

	return TextResult(string(data))
}

// ResultText joins the text content of a result.
func ResultText(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}

	var text string

	for _, c := range result.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			text += t.Text
		}
	}

	return text
}

// ParseArguments unmarshals CallToolRequest arguments into T. Missing
// arguments leave T at its zero value.
func ParseArguments[T any](req *mcp.CallToolRequest) (T, error) {
	var args T

	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return args, nil
	}

	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return args, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}

	return args, nil
}
