package dbclient

import (
	"etlplanner/internal/domain"

	_ "modernc.org/sqlite"
)

// buildSQLiteDSN opens an external SQLite file in WAL mode with a busy timeout.
func buildSQLiteDSN(conn domain.Connection) string {
	return conn.Params.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
