package sources

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"etlplanner/internal/dbclient"
	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
)

// ── Database Source ────────────────────────────────────────
// Runs the step's query on a fresh connection and returns the whole result.

// Database extracts from SQL engines and MongoDB.
type Database struct {
	Open   func(conn domain.Connection) (dbclient.Connector, error)
	Logger *slog.Logger
}

func (d *Database) Extract(ctx context.Context, conn domain.Connection, cfg domain.ExtractConfig) (*etl.Table, error) {
	c, err := d.Open(conn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", conn.Name, err)
	}
	defer c.Close()

	start := time.Now()
	tbl, err := c.Query(ctx, cfg.Query)
	if err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	if d.Logger != nil {
		d.Logger.Debug("query executed", "connection", conn.Name, "kind", conn.Kind,
			"rows", tbl.Len(), "took", time.Since(start))
	}
	return tbl, nil
}
