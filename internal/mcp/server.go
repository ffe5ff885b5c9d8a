package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
	"etlplanner/internal/recurrence"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Pipelines is the application surface the MCP tools drive.
// *service.PipelineService implements it.
type Pipelines interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id string) (*domain.Task, error)
	RunTaskByID(ctx context.Context, id string) error
	ListHistory(ctx context.Context, taskID string, limit int) ([]domain.ExecutionRecord, error)
	ListConnections(ctx context.Context) ([]domain.Connection, error)
	TestConnection(ctx context.Context, id string) error
	Capabilities() etl.Capabilities
}

// Server is the MCP server for etlplanner.
// It exposes tools, resources and prompts so agents can inspect and trigger tasks.
type Server struct {
	mcp       *server.MCPServer
	pipelines Pipelines
	calc      recurrence.Calculator
	log       *slog.Logger
}

// Deps holds the dependencies of the MCP server.
type Deps struct {
	Pipelines  Pipelines
	Calculator recurrence.Calculator
	Logger     *slog.Logger
	Version    string
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	s := &Server{
		pipelines: deps.Pipelines,
		calc:      deps.Calculator,
		log:       deps.Logger,
	}
	if s.calc == nil {
		s.calc = recurrence.MinuteCalculator{}
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s.mcp = server.NewMCPServer(
		"etlplanner",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
	)

	s.registerTaskTools()
	s.registerConnectionTools()
	s.registerScheduleTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// ServeStdio serves MCP on stdin/stdout until ctx is done or stdin closes.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.log.Info("mcp: starting stdio server")
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.log.Handler(), slog.LevelError))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// intArg reads a numeric argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func boolPtr(v bool) *bool { return &v }
