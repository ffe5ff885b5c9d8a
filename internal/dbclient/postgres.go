package dbclient

import (
	"fmt"
	"sort"
	"strings"

	"etlplanner/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// buildPostgresDSN constructs a key/value connection string. The "driver"
// option selects pgx instead of lib/pq.
func buildPostgresDSN(conn domain.Connection, password string) (driverName, dsn string) {
	p := conn.Params
	port := p.Port
	if port == 0 {
		port = 5432
	}
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	driverName = "postgres"
	pairs := []string{
		"host=" + pgValue(p.Host),
		fmt.Sprintf("port=%d", port),
		"user=" + pgValue(p.User),
		"password=" + pgValue(password),
		"dbname=" + pgValue(p.Database),
		"sslmode=" + pgValue(sslMode),
	}
	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "driver" {
			if p.Options[k] == "pgx" {
				driverName = "pgx"
			}
			continue
		}
		pairs = append(pairs, k+"="+pgValue(p.Options[k]))
	}
	return driverName, strings.Join(pairs, " ")
}

func pgValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
