package dbclient

import (
	"fmt"
	"net/url"
	"strconv"

	"etlplanner/internal/domain"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"
)

// buildSQLServerDSN constructs a sqlserver:// URL and checks that the driver accepts it.
func buildSQLServerDSN(conn domain.Connection, password string) (string, error) {
	p := conn.Params
	port := p.Port
	if port == 0 {
		port = 1433
	}
	q := url.Values{}
	if p.Database != "" {
		q.Set("database", p.Database)
	}
	if p.SSLMode == "disable" {
		q.Set("encrypt", "disable")
	}
	for k, v := range p.Options {
		q.Set(k, v)
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     p.Host + ":" + strconv.Itoa(port),
		RawQuery: q.Encode(),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, password)
	}
	dsn := u.String()
	if _, err := msdsn.Parse(dsn); err != nil {
		return "", fmt.Errorf("invalid sqlserver connection %q: %w", conn.Name, err)
	}
	return dsn, nil
}
