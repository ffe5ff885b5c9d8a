// Package sinks holds the loaders that write tables into external systems.
// Every loader drives an etl.SinkWriter, so load modes, sanitizing and
// destination creation behave the same for all of them.
package sinks

import (
	"log/slog"

	"etlplanner/internal/dbclient"
	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
	"etlplanner/internal/metrics"
	"etlplanner/internal/secret"
)

// Options configures the registered loaders.
type Options struct {
	Secrets     secret.SecretStore
	Connections domain.ConnectionStore

	// AtomicReplace wraps the delete and insert of replace loads in one
	// transaction on engines that support it.
	AtomicReplace bool

	Metrics metrics.Recorder
	Logger  *slog.Logger
}

// Register adds a loader for every connection kind that can be written to.
func Register(reg *etl.Registry, opts Options) {
	sqlLoader := &SQL{
		Open: func(conn domain.Connection) (*dbclient.SQLConnector, error) {
			return dbclient.OpenSQL(conn, opts.Secrets)
		},
		Connections:   opts.Connections,
		AtomicReplace: opts.AtomicReplace,
		Metrics:       opts.Metrics,
		Logger:        opts.Logger,
	}
	for _, kind := range []domain.ConnectionKind{
		domain.ConnectionKindSQLServer,
		domain.ConnectionKindPostgres,
		domain.ConnectionKindMySQL,
		domain.ConnectionKindSQLite,
	} {
		reg.RegisterLoader(kind, sqlLoader)
	}
	reg.RegisterLoader(domain.ConnectionKindCSV, &CSV{Metrics: opts.Metrics, Logger: opts.Logger})
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
