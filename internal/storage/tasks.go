package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"etlplanner/internal/domain"

	"github.com/google/uuid"
)

// TaskStore persists tasks and their steps.
type TaskStore struct {
	db *DB
}

// NewTaskStore creates a new TaskStore.
func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskColumns = `id, name, recurrence, enabled, watch_path, created_at, updated_at`

// ── Task CRUD ──────────────────────────────────────────────

// CreateTask validates task and stores it with its steps.
func (s *TaskStore) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.Name, task.Recurrence, task.Enabled, task.WatchPath, task.CreatedAt, task.UpdatedAt,
		); err != nil {
			return err
		}
		return insertSteps(ctx, tx, task)
	})
}

// UpdateTask validates task and replaces its row and all of its steps in
// one transaction.
func (s *TaskStore) UpdateTask(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	task.UpdatedAt = time.Now().UTC()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET name=?, recurrence=?, enabled=?, watch_path=?, updated_at=? WHERE id=?`,
			task.Name, task.Recurrence, task.Enabled, task.WatchPath, task.UpdatedAt, task.ID,
		)
		if err != nil {
			return err
		}
		if err := requireOne(res, "task", task.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE task_id = ?`, task.ID); err != nil {
			return err
		}
		return insertSteps(ctx, tx, task)
	})
}

// SetTaskEnabled toggles whether the scheduler considers the task.
func (s *TaskStore) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE tasks SET enabled=?, updated_at=? WHERE id=?`, enabled, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return requireOne(res, "task", id)
}

// DeleteTask removes the task, its steps and its history.
func (s *TaskStore) DeleteTask(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM execution_history WHERE task_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE task_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return requireOne(res, "task", id)
	})
}

func (s *TaskStore) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	row := s.db.conn.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadSteps(ctx, []*domain.Task{task}); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns every task with its steps.
func (s *TaskStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.list(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at ASC`)
}

// ListEnabledTasks returns the tasks the scheduler should consider.
func (s *TaskStore) ListEnabledTasks(ctx context.Context) ([]domain.Task, error) {
	return s.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE enabled = 1 ORDER BY created_at ASC`)
}

func (s *TaskStore) list(ctx context.Context, query string) ([]domain.Task, error) {
	rows, err := s.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	// The single connection is free again once rows is closed.
	if err := s.loadSteps(ctx, tasks); err != nil {
		return nil, err
	}
	out := make([]domain.Task, len(tasks))
	for i, t := range tasks {
		out[i] = *t
	}
	return out, nil
}

// ── Steps ──────────────────────────────────────────────────

func insertSteps(ctx context.Context, tx *sql.Tx, task *domain.Task) error {
	for i := range task.Steps {
		step := &task.Steps[i]
		if step.ID == "" {
			step.ID = uuid.New().String()
		}
		step.TaskID = task.ID
		cfg, err := step.MarshalConfig()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO steps (id, task_id, name, kind, step_order, connection_id, config_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			step.ID, step.TaskID, step.Name, step.Kind, step.Order, step.ConnectionID, cfg,
		); err != nil {
			return fmt.Errorf("insert step %q: %w", step.Name, err)
		}
	}
	return nil
}

func (s *TaskStore) loadSteps(ctx context.Context, tasks []*domain.Task) error {
	for _, task := range tasks {
		rows, err := s.db.conn.QueryContext(ctx,
			`SELECT id, task_id, name, kind, step_order, connection_id, config_json
			 FROM steps WHERE task_id = ? ORDER BY step_order ASC`, task.ID,
		)
		if err != nil {
			return err
		}
		task.Steps = nil
		for rows.Next() {
			var step domain.Step
			var cfg string
			if err := rows.Scan(&step.ID, &step.TaskID, &step.Name, &step.Kind, &step.Order, &step.ConnectionID, &cfg); err != nil {
				rows.Close()
				return err
			}
			if err := step.UnmarshalConfig(cfg); err != nil {
				rows.Close()
				return err
			}
			task.Steps = append(task.Steps, step)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func scanTask(row scanner) (*domain.Task, error) {
	t := &domain.Task{}
	if err := row.Scan(&t.ID, &t.Name, &t.Recurrence, &t.Enabled, &t.WatchPath, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TaskStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
