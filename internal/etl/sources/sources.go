// Package sources holds the extractors that read tables from external systems.
package sources

import (
	"log/slog"

	"etlplanner/internal/dbclient"
	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
	"etlplanner/internal/secret"
)

// Register adds an extractor for every supported connection kind.
func Register(reg *etl.Registry, secrets secret.SecretStore, log *slog.Logger) {
	db := &Database{
		Open: func(conn domain.Connection) (dbclient.Connector, error) {
			return dbclient.Open(conn, secrets)
		},
		Logger: log,
	}
	for _, kind := range []domain.ConnectionKind{
		domain.ConnectionKindSQLServer,
		domain.ConnectionKindPostgres,
		domain.ConnectionKindMySQL,
		domain.ConnectionKindSQLite,
		domain.ConnectionKindMongoDB,
	} {
		reg.RegisterExtractor(kind, db)
	}
	reg.RegisterExtractor(domain.ConnectionKindCSV, FlatFile{})
}
