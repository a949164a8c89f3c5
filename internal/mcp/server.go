package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/exsi-sdk-go/internal/config"
	"github.com/wagiedev/exsi-sdk-go/internal/protocol"
)

// ServerName is the implementation name announced to MCP clients.
const ServerName = "exsi"

// Scanner is the session surface the tools drive. *bridge.Client satisfies
// it.
type Scanner interface {
	Connect(ctx context.Context, cfg *config.Config) error
	LoadProtocol(ctx context.Context, name string) error
	SelectTask(ctx context.Context, index int) error
	SelectTaskKey(ctx context.Context, key string) error
	SelectNextTask(ctx context.Context) error
	ActivateTask(ctx context.Context) error
	PatientTable(ctx context.Context) error
	Prescan(ctx context.Context, auto bool) error
	Scan(ctx context.Context) error
	SetCV(ctx context.Context, name string, value float64) error
	SetCenterFrequency(ctx context.Context, hz int64) error
	SetShimValues(ctx context.Context, x, y, z int) error
	GetPrescanValues(ctx context.Context) error
	RequestExamInfo(ctx context.Context) error
	WaitFor(ctx context.Context, name protocol.SignalName, timeout time.Duration) (protocol.WaitResult, error)
	TaskKeys(ctx context.Context) ([]string, error)
	ExamInfo(ctx context.Context) (map[string]string, error)
}

// ToolServer wraps the MCP SDK server and keeps its own tool registry so
// tools can be called without a transport.
type ToolServer struct {
	log      *slog.Logger
	scanner  Scanner
	defaults config.Config
	server   *mcp.Server

	mu    sync.RWMutex
	tools map[string]*registeredTool
}

type registeredTool struct {
	tool    *mcp.Tool
	handler mcp.ToolHandler
}

// NewToolServer creates a server exposing scanner. defaults seeds the
// connect tool; arguments given to the tool override it.
func NewToolServer(log *slog.Logger, scanner Scanner, defaults *config.Config, version string) (*ToolServer, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	s := &ToolServer{
		log:     log.With("component", "mcp"),
		scanner: scanner,
		server:  mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil),
		tools:   make(map[string]*registeredTool, 16),
	}

	if defaults != nil {
		s.defaults = *defaults
	}

	if err := s.registerTools(); err != nil {
		return nil, err
	}

	return s, nil
}

// Run serves MCP on transport until ctx is done or the client disconnects.
func (s *ToolServer) Run(ctx context.Context, transport mcp.Transport) error {
	s.log.Info("Serving MCP tools", "tools", len(s.ToolNames()))

	return s.server.Run(ctx, transport)
}

// ToolNames returns the registered tool names in sorted order.
func (s *ToolServer) ToolNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Tool returns the metadata of a registered tool.
func (s *ToolServer) Tool(name string) (*mcp.Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tools[name]
	if !ok {
		return nil, false
	}

	return t.tool, true
}

// CallTool executes a tool by name with the given input. Unknown tools and
// handler failures are reported in the result.
func (s *ToolServer) CallTool(ctx context.Context, name string, input map[string]any) *mcp.CallToolResult {
	s.mu.RLock()
	t, exists := s.tools[name]
	s.mu.RUnlock()

	if !exists {
		return ErrorResult("Tool not found: " + name)
	}

	inputBytes, err := json.Marshal(input)
	if err != nil {
		return ErrorResult("Failed to marshal input: " + err.Error())
	}

	req := &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{
			Name:      name,
			Arguments: inputBytes,
		},
	}

	result, err := t.handler(ctx, req)
	if err != nil {
		return ErrorResult("Tool execution failed: " + err.Error())
	}

	return result
}

// addTool registers a tool whose arguments decode into In. The input
// schema is inferred from In; tweak may refine it.
func addTool[In any](
	s *ToolServer,
	name, description string,
	tweak func(*jsonschema.Schema),
	run func(ctx context.Context, in In) (*mcp.CallToolResult, error),
) error {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("infer %s input schema: %w", name, err)
	}

	if tweak != nil {
		tweak(schema)
	}

	tool := &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}

	handler := func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := ParseArguments[In](req)
		if err != nil {
			return ErrorResult(err.Error()), nil
		}

		start := time.Now()

		result, err := run(ctx, in)
		if err != nil {
			s.log.Warn("Tool failed", "tool", name, "error", err, "duration", time.Since(start))

			return ErrorResult(err.Error()), nil
		}

		s.log.Debug("Tool finished", "tool", name, "duration", time.Since(start))

		return result, nil
	}

	s.mu.Lock()
	s.tools[name] = &registeredTool{tool: tool, handler: handler}
	s.mu.Unlock()

	s.server.AddTool(tool, handler)

	return nil
}
