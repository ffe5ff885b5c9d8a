package domain

import (
	"context"
	"time"
)

// ExecutionStatus is the state of one task run.
type ExecutionStatus string

const (
	ExecutionRunning ExecutionStatus = "running"
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionError   ExecutionStatus = "error"
)

// ExecutionRecord is the history entry of a single task run.
type ExecutionRecord struct {
	ID         string          `json:"id"`
	TaskID     string          `json:"taskId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	Status     ExecutionStatus `json:"status"`
	Message    string          `json:"message,omitempty"`
}

// TaskStore reads task definitions.
type TaskStore interface {
	ListEnabledTasks(ctx context.Context) ([]Task, error)
	GetTask(ctx context.Context, id string) (*Task, error)
}

// ConnectionStore resolves connections by id.
type ConnectionStore interface {
	GetConnection(ctx context.Context, id string) (*Connection, error)
}

// HistoryStore records the start and end of task runs.
type HistoryStore interface {
	LogExecutionStart(ctx context.Context, taskID string, startedAt time.Time) (string, error)
	LogExecutionEnd(ctx context.Context, id string, finishedAt time.Time, status ExecutionStatus, message string) error
}
