package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	tasksURI       = "etlplanner://tasks"
	historyURIBase = "etlplanner://task/"
)

func (s *Server) registerResources() {
	// ── etlplanner://tasks ─────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		tasksURI,
		"All Tasks",
		mcp.WithMIMEType("application/json"),
	), s.handleTasksResource)

	// ── etlplanner://task/{taskId}/history ─────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			historyURIBase+"{taskId}/history",
			"Run History of a Task",
		),
		s.handleTaskHistoryResource,
	)
}

func (s *Server) handleTasksResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tasks, err := s.pipelines.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]taskSummary, len(tasks))
	for i, t := range tasks {
		summaries[i] = taskSummary{ID: t.ID, Name: t.Name, Recurrence: t.Recurrence, Enabled: t.Enabled, WatchPath: t.WatchPath, Steps: len(t.Steps)}
	}
	return jsonContents(tasksURI, summaries)
}

func (s *Server) handleTaskHistoryResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	taskID := taskIDFromURI(uri)
	if taskID == "" {
		return nil, fmt.Errorf("could not extract taskId from URI: %s", uri)
	}
	runs, err := s.pipelines.ListHistory(ctx, taskID, 50)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, runs)
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// taskIDFromURI extracts the task ID from "etlplanner://task/{id}/history".
func taskIDFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, historyURIBase)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, "/history")
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}
