package mcpserver

import (
	"context"
	"fmt"

	"etlplanner/internal/domain"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerTaskTools() {
	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List all tasks with their recurrence, enabled flag and step count"),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListTasks)

	s.mcp.AddTool(mcp.NewTool("get_task",
		mcp.WithDescription("Get one task with its ordered steps"),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleGetTask)

	s.mcp.AddTool(mcp.NewTool("run_task",
		mcp.WithDescription("Run a task now and wait for it to finish. Load steps may replace destination rows."),
		mcp.WithString("taskId", mcp.Description("Task ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunTask)

	s.mcp.AddTool(mcp.NewTool("list_history",
		mcp.WithDescription("List past task runs, newest first"),
		mcp.WithString("taskId", mcp.Description("Task ID (optional, all tasks when empty)")),
		mcp.WithNumber("limit", mcp.Description("Maximum records (default 20)")),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{ReadOnlyHint: boolPtr(true)}),
	), s.handleListHistory)
}

type taskSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Recurrence string `json:"recurrence"`
	Enabled    bool   `json:"enabled"`
	WatchPath  string `json:"watchPath,omitempty"`
	Steps      int    `json:"steps"`
}

func (s *Server) handleListTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tasks, err := s.pipelines.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]taskSummary, len(tasks))
	for i, t := range tasks {
		out[i] = taskSummary{
			ID:         t.ID,
			Name:       t.Name,
			Recurrence: t.Recurrence,
			Enabled:    t.Enabled,
			WatchPath:  t.WatchPath,
			Steps:      len(t.Steps),
		}
	}
	return jsonResult(out)
}

func (s *Server) handleGetTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("taskId", "")
	if taskID == "" {
		return nil, fmt.Errorf("taskId is required")
	}
	task, err := s.pipelines.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	task.Steps = task.OrderedSteps()
	return jsonResult(task)
}

type runResult struct {
	TaskID string                  `json:"taskId"`
	Status domain.ExecutionStatus  `json:"status"`
	Error  string                  `json:"error,omitempty"`
	Run    *domain.ExecutionRecord `json:"run,omitempty"`
}

func (s *Server) handleRunTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("taskId", "")
	if taskID == "" {
		return nil, fmt.Errorf("taskId is required")
	}
	if _, err := s.pipelines.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	s.log.Info("mcp: run task", "task_id", taskID)
	res := runResult{TaskID: taskID, Status: domain.ExecutionSuccess}
	if err := s.pipelines.RunTaskByID(ctx, taskID); err != nil {
		res.Status, res.Error = domain.ExecutionError, err.Error()
	}
	if runs, err := s.pipelines.ListHistory(ctx, taskID, 1); err == nil && len(runs) > 0 {
		res.Run = &runs[0]
	}
	return jsonResult(res)
}

func (s *Server) handleListHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := req.GetString("taskId", "")
	limit := intArg(req.GetArguments(), "limit", 20)
	runs, err := s.pipelines.ListHistory(ctx, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	if runs == nil {
		runs = []domain.ExecutionRecord{}
	}
	return jsonResult(runs)
}
