package domain

import (
	"fmt"
	"time"
)

// ConnectionKind identifies the engine behind a connection.
type ConnectionKind string

const (
	ConnectionKindSQLServer ConnectionKind = "sqlserver"
	ConnectionKindPostgres  ConnectionKind = "postgres"
	ConnectionKindMySQL     ConnectionKind = "mysql"
	ConnectionKindSQLite    ConnectionKind = "sqlite"
	ConnectionKindMongoDB   ConnectionKind = "mongodb"
	ConnectionKindCSV       ConnectionKind = "csv"
)

// ConnectionKinds lists every kind a connection may declare.
var ConnectionKinds = []ConnectionKind{
	ConnectionKindSQLServer,
	ConnectionKindPostgres,
	ConnectionKindMySQL,
	ConnectionKindSQLite,
	ConnectionKindMongoDB,
	ConnectionKindCSV,
}

// ConnectionParams holds the driver parameters of a connection.
// Password may be left empty when PasswordSecret names a key in the secret store.
type ConnectionParams struct {
	Host           string            `json:"host,omitempty"`
	Port           int               `json:"port,omitempty"`
	Database       string            `json:"database,omitempty"`
	User           string            `json:"user,omitempty"`
	Password       string            `json:"password,omitempty"`
	PasswordSecret string            `json:"passwordSecret,omitempty"`
	SSLMode        string            `json:"sslMode,omitempty"`
	Path           string            `json:"path,omitempty"` // sqlite file or csv directory
	URI            string            `json:"uri,omitempty"`  // mongodb only
	Options        map[string]string `json:"options,omitempty"`
}

// Connection is a named set of parameters for reaching a data system.
type Connection struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Kind      ConnectionKind   `json:"kind"`
	Params    ConnectionParams `json:"params"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Validate checks the fields each kind requires.
func (c *Connection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: connection name is required", ErrInvalid)
	}
	switch c.Kind {
	case ConnectionKindSQLServer, ConnectionKindPostgres, ConnectionKindMySQL:
		if c.Params.Host == "" {
			return fmt.Errorf("%w: %s connection %q requires a host", ErrInvalid, c.Kind, c.Name)
		}
	case ConnectionKindSQLite, ConnectionKindCSV:
		if c.Params.Path == "" {
			return fmt.Errorf("%w: %s connection %q requires a path", ErrInvalid, c.Kind, c.Name)
		}
	case ConnectionKindMongoDB:
		if c.Params.URI == "" && c.Params.Host == "" {
			return fmt.Errorf("%w: mongodb connection %q requires a uri or host", ErrInvalid, c.Name)
		}
	default:
		return fmt.Errorf("%w: unknown connection kind %q", ErrInvalid, c.Kind)
	}
	if c.Params.Port < 0 || c.Params.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Params.Port)
	}
	return nil
}
