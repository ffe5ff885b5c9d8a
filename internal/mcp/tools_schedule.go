package mcpserver

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const maxTriggers = 20

func (s *Server) registerScheduleTools() {
	s.mcp.AddTool(mcp.NewTool("next_trigger",
		mcp.WithDescription("Compute the next trigger times of a recurrence expression, or of a task's recurrence"),
		mcp.WithString("expression", mcp.Description(`Recurrence expression such as "*/15 * * * *"`)),
		mcp.WithString("taskId", mcp.Description("Use this task's recurrence instead of expression")),
		mcp.WithString("from", mcp.Description("RFC 3339 start time (default now)")),
		mcp.WithNumber("count", mcp.Description("How many trigger times to return (default 1, max 20)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleNextTrigger)
}

func (s *Server) handleNextTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr := req.GetString("expression", "")
	if taskID := req.GetString("taskId", ""); taskID != "" {
		task, err := s.pipelines.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		expr = task.Recurrence
	}
	if expr == "" {
		return nil, fmt.Errorf("expression or taskId is required")
	}

	from := time.Now()
	if raw := req.GetString("from", ""); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("parse from: %w", err)
		}
		from = t
	}
	count := min(max(intArg(req.GetArguments(), "count", 1), 1), maxTriggers)

	times := make([]string, 0, count)
	next := from
	for range count {
		t, err := s.calc.Next(expr, next)
		if err != nil {
			return nil, err
		}
		times = append(times, t.Format(time.RFC3339))
		next = t
	}
	return jsonResult(map[string]any{
		"expression": expr,
		"from":       from.Format(time.RFC3339),
		"next":       times,
	})
}
