package storage

import (
	"context"
	"database/sql"
	"time"

	"etlplanner/internal/domain"

	"github.com/google/uuid"
)

// HistoryStore records task executions.
type HistoryStore struct {
	db *DB
}

// NewHistoryStore creates a new HistoryStore.
func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// LogExecutionStart opens a running record and returns its id.
func (s *HistoryStore) LogExecutionStart(ctx context.Context, taskID string, startedAt time.Time) (string, error) {
	id := uuid.New().String()
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO execution_history (id, task_id, started_at, status) VALUES (?, ?, ?, ?)`,
		id, taskID, startedAt.UTC(), domain.ExecutionRunning,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// LogExecutionEnd closes the record opened by LogExecutionStart.
func (s *HistoryStore) LogExecutionEnd(ctx context.Context, id string, finishedAt time.Time, status domain.ExecutionStatus, message string) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE execution_history SET finished_at=?, status=?, message=? WHERE id=?`,
		finishedAt.UTC(), status, message, id,
	)
	if err != nil {
		return err
	}
	return requireOne(res, "execution", id)
}

// ListHistory returns the newest records first. An empty taskID lists all
// tasks; a non-positive limit defaults to 50.
func (s *HistoryStore) ListHistory(ctx context.Context, taskID string, limit int) ([]domain.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, task_id, started_at, finished_at, status, message
		 FROM execution_history WHERE ? = '' OR task_id = ?
		 ORDER BY started_at DESC LIMIT ?`,
		taskID, taskID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ExecutionRecord
	for rows.Next() {
		var r domain.ExecutionRecord
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.TaskID, &r.StartedAt, &finished, &r.Status, &r.Message); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
