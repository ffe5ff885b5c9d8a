package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("diagnose_task",
		mcp.WithPromptDescription("Investigate why a task is failing"),
		mcp.WithArgument("taskId",
			mcp.ArgumentDescription("ID of the failing task"),
			mcp.RequiredArgument(),
		),
	), s.handleDiagnosePrompt)
}

func (s *Server) handleDiagnosePrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	taskID := req.Params.Arguments["taskId"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Diagnose task %s", taskID),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Find out why task "%s" is failing. Follow these steps:

1. Use get_task to read its steps and the connections they reference
2. Use list_history with taskId "%s" to read the error of the latest runs
3. Use test_connection on every connection the failing step uses
4. Use next_trigger with the task ID to confirm when it will run again

Report the failing step, the likely cause and the fix. Only call run_task once the cause is addressed.`, taskID, taskID),
				},
			},
		},
	}, nil
}
