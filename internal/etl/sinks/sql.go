package sinks

import (
	"context"
	"fmt"
	"log/slog"

	"etlplanner/internal/dbclient"
	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
	"etlplanner/internal/metrics"
)

// SQL loads tables into relational databases.
type SQL struct {
	Open          func(conn domain.Connection) (*dbclient.SQLConnector, error)
	Connections   domain.ConnectionStore
	AtomicReplace bool
	Metrics       metrics.Recorder
	Logger        *slog.Logger
}

func (l *SQL) Load(ctx context.Context, conn domain.Connection, cfg domain.LoadConfig, data *etl.Table) error {
	log := logger(l.Logger).With("connection", conn.Name, "table", cfg.Table)

	target, err := l.Open(conn)
	if err != nil {
		return fmt.Errorf("open %s: %w", conn.Name, err)
	}
	defer target.Close()

	rec := &etl.Reconciler{Sink: target, Logger: log}
	if cfg.SourceConnectionID != "" {
		source, err := l.openSource(ctx, cfg.SourceConnectionID, conn.Kind)
		if err != nil {
			log.Warn("source metadata unavailable, deriving schema from data", "error", err)
		} else {
			defer source.Close()
			rec.Source = source
			rec.SourceTable = etl.ParseTableID(cfg.SchemaSource(), source.Dialect().DefaultSchema)
		}
	}

	w := &etl.SinkWriter{
		Sink:          target,
		Reconciler:    rec,
		AtomicReplace: l.AtomicReplace,
		Logger:        log,
	}
	id := etl.ParseTableID(cfg.Table, target.Dialect().DefaultSchema)
	n, err := w.Write(ctx, data, id, cfg.LoadMode(), cfg.AutoCreate())
	metrics.OrNop(l.Metrics).RecordRows("written", n)
	if err != nil {
		return err
	}
	log.Info("rows loaded", "rows", n, "mode", cfg.LoadMode())
	return nil
}

// openSource opens the connection whose catalog describes the target columns.
// Catalog types only carry over between engines of the same kind.
func (l *SQL) openSource(ctx context.Context, id string, target domain.ConnectionKind) (*dbclient.SQLConnector, error) {
	if l.Connections == nil {
		return nil, fmt.Errorf("no connection store")
	}
	conn, err := l.Connections.GetConnection(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("source connection %s: %w", id, err)
	}
	if conn.Kind != target {
		return nil, fmt.Errorf("source connection %s is %s, target is %s", conn.Name, conn.Kind, target)
	}
	return l.Open(*conn)
}
