package dbclient

import (
	"net"
	"strconv"

	"etlplanner/internal/domain"

	"github.com/go-sql-driver/mysql"
)

// buildMySQLDSN constructs a MySQL DSN with parseTime enabled.
func buildMySQLDSN(conn domain.Connection, password string) string {
	p := conn.Params
	port := p.Port
	if port == 0 {
		port = 3306
	}
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(port))
	cfg.DBName = p.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	for k, v := range p.Options {
		cfg.Params[k] = v
	}
	if p.SSLMode == "require" {
		cfg.TLSConfig = "true"
	}
	return cfg.FormatDSN()
}
