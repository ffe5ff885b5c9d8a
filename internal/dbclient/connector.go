// Package dbclient opens connections to the external databases tasks read
// from and write to.
package dbclient

import (
	"context"
	"fmt"
	"time"

	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
	"etlplanner/internal/secret"
)

// Connector is an open connection to an external database.
type Connector interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Query runs a read query and returns the whole result.
	Query(ctx context.Context, query string) (*etl.Table, error)

	// Close releases the connection.
	Close() error
}

// Open creates a Connector for conn. Passwords stored by reference are
// looked up in secrets.
func Open(conn domain.Connection, secrets secret.SecretStore) (Connector, error) {
	if conn.Kind == domain.ConnectionKindMongoDB {
		password, err := Password(conn, secrets)
		if err != nil {
			return nil, err
		}
		return newMongoConnector(conn, password)
	}
	return OpenSQL(conn, secrets)
}

// OpenSQL creates a connector for a relational connection.
func OpenSQL(conn domain.Connection, secrets secret.SecretStore) (*SQLConnector, error) {
	dialect, err := DialectFor(conn.Kind)
	if err != nil {
		return nil, err
	}
	password, err := Password(conn, secrets)
	if err != nil {
		return nil, err
	}

	var driverName, dsn string
	switch conn.Kind {
	case domain.ConnectionKindSQLServer:
		driverName = "sqlserver"
		dsn, err = buildSQLServerDSN(conn, password)
	case domain.ConnectionKindPostgres:
		driverName, dsn = buildPostgresDSN(conn, password)
	case domain.ConnectionKindMySQL:
		driverName, dsn = "mysql", buildMySQLDSN(conn, password)
	case domain.ConnectionKindSQLite:
		driverName, dsn = "sqlite", buildSQLiteDSN(conn)
	}
	if err != nil {
		return nil, err
	}
	return newSQLConnector(driverName, dsn, dialect)
}

// Password returns the literal password of conn or, when it names a secret,
// the stored value.
func Password(conn domain.Connection, secrets secret.SecretStore) (string, error) {
	if conn.Params.Password != "" || conn.Params.PasswordSecret == "" {
		return conn.Params.Password, nil
	}
	if secrets == nil {
		return "", fmt.Errorf("connection %q: secret %q: no secret store", conn.Name, conn.Params.PasswordSecret)
	}
	v, err := secrets.Get(conn.Params.PasswordSecret)
	if err != nil {
		return "", fmt.Errorf("connection %q: secret %q: %w", conn.Name, conn.Params.PasswordSecret, err)
	}
	if v == nil {
		return "", fmt.Errorf("connection %q: secret %q is not set", conn.Name, conn.Params.PasswordSecret)
	}
	return string(v), nil
}

// TestConnection opens conn, pings it and closes it again.
func TestConnection(ctx context.Context, conn domain.Connection, secrets secret.SecretStore) error {
	c, err := Open(conn, secrets)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.Ping(ctx)
}
