package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"etlplanner/internal/domain"

	"github.com/google/uuid"
)

// ConnectionStore manages connection records.
type ConnectionStore struct {
	db *DB
}

// NewConnectionStore creates a new ConnectionStore.
func NewConnectionStore(db *DB) *ConnectionStore {
	return &ConnectionStore{db: db}
}

func (s *ConnectionStore) CreateConnection(ctx context.Context, c *domain.Connection) error {
	if err := c.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	params, err := json.Marshal(c.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = s.db.conn.ExecContext(ctx,
		`INSERT INTO connections (id, name, kind, params_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Kind, string(params), c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (s *ConnectionStore) GetConnection(ctx context.Context, id string) (*domain.Connection, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT id, name, kind, params_json, created_at, updated_at FROM connections WHERE id = ?`, id,
	)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return c, err
}

// GetConnectionByName looks a connection up by its unique name.
func (s *ConnectionStore) GetConnectionByName(ctx context.Context, name string) (*domain.Connection, error) {
	row := s.db.conn.QueryRowContext(ctx,
		`SELECT id, name, kind, params_json, created_at, updated_at FROM connections WHERE name = ?`, name,
	)
	c, err := scanConnection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("connection %q: %w", name, domain.ErrNotFound)
	}
	return c, err
}

func (s *ConnectionStore) ListConnections(ctx context.Context) ([]domain.Connection, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT id, name, kind, params_json, created_at, updated_at FROM connections ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *ConnectionStore) UpdateConnection(ctx context.Context, c *domain.Connection) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().UTC()
	params, err := json.Marshal(c.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE connections SET name=?, kind=?, params_json=?, updated_at=? WHERE id=?`,
		c.Name, c.Kind, string(params), c.UpdatedAt, c.ID,
	)
	if err != nil {
		return err
	}
	return requireOne(res, "connection", c.ID)
}

func (s *ConnectionStore) DeleteConnection(ctx context.Context, id string) error {
	res, err := s.db.conn.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireOne(res, "connection", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConnection(row scanner) (*domain.Connection, error) {
	c := &domain.Connection{}
	var params string
	if err := row.Scan(&c.ID, &c.Name, &c.Kind, &params, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &c.Params); err != nil {
		return nil, fmt.Errorf("decode params of connection %s: %w", c.ID, err)
	}
	return c, nil
}

func requireOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return nil
}
