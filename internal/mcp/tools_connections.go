package mcpserver

import (
	"context"
	"fmt"
	"net/url"

	"etlplanner/internal/domain"

	"github.com/mark3labs/mcp-go/mcp"
)

const redacted = "xxxxx"

func (s *Server) registerConnectionTools() {
	s.mcp.AddTool(mcp.NewTool("list_connections",
		mcp.WithDescription("List configured connections. Passwords are redacted."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListConnections)

	s.mcp.AddTool(mcp.NewTool("test_connection",
		mcp.WithDescription("Open a connection and ping it"),
		mcp.WithString("connectionId", mcp.Description("Connection ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleTestConnection)

	s.mcp.AddTool(mcp.NewTool("list_capabilities",
		mcp.WithDescription("List the connection kinds that can be extracted from and loaded into, and the transform kinds"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListCapabilities)
}

func (s *Server) handleListConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns, err := s.pipelines.ListConnections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	for i := range conns {
		redact(&conns[i])
	}
	if conns == nil {
		conns = []domain.Connection{}
	}
	return jsonResult(conns)
}

// redact blanks the literal password and any password in a connection URI.
func redact(c *domain.Connection) {
	if c.Params.Password != "" {
		c.Params.Password = redacted
	}
	if c.Params.URI == "" {
		return
	}
	u, err := url.Parse(c.Params.URI)
	if err != nil {
		c.Params.URI = redacted
		return
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	c.Params.URI = u.String()
}

func (s *Server) handleTestConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("connectionId", "")
	if id == "" {
		return nil, fmt.Errorf("connectionId is required")
	}
	if err := s.pipelines.TestConnection(ctx, id); err != nil {
		return textResult(fmt.Sprintf("connection %s failed: %v", id, err)), nil
	}
	return textResult(fmt.Sprintf("connection %s ok", id)), nil
}

func (s *Server) handleListCapabilities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.pipelines.Capabilities())
}
