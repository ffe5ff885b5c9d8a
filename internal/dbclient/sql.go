package dbclient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"etlplanner/internal/etl"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// SQLConnector is the shared implementation for every relational engine.
// Besides reading it acts as an etl.Sink, etl.Catalog and etl.Transactor.
type SQLConnector struct {
	sqlSink
	driverName string
}

// newSQLConnector creates a generic SQL connector.
func newSQLConnector(driverName, dsn string, dialect *Dialect) (*SQLConnector, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	return &SQLConnector{
		sqlSink:    sqlSink{dialect: dialect, q: db, db: db},
		driverName: driverName,
	}, nil
}

// Dialect returns the SQL dialect of the connection.
func (c *SQLConnector) Dialect() *Dialect { return c.dialect }

// DB exposes the underlying pool.
func (c *SQLConnector) DB() *sql.DB { return c.db }

func (c *SQLConnector) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}

func (c *SQLConnector) Close() error {
	return c.db.Close()
}

// Query runs query and reads every row. Column types come from the driver's
// reported database types; columns the driver cannot type are left for
// inference.
func (c *SQLConnector) Query(ctx context.Context, query string) (*etl.Table, error) {
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	out := &etl.Table{Columns: make([]etl.Column, len(cts))}
	for i, ct := range cts {
		out.Columns[i] = etl.Column{Name: ct.Name(), Type: logicalType(ct.DatabaseTypeName())}
	}

	for rows.Next() {
		values := make([]any, len(cts))
		ptrs := make([]any, len(cts))
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(out.Rows), err)
		}
		for j, v := range values {
			values[j] = normalizeValue(v, out.Columns[j].Type)
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// WithinTx runs fn against a sink bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (c *SQLConnector) WithinTx(ctx context.Context, fn func(etl.Sink) error) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&sqlSink{dialect: c.dialect, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ── Sink operations ────────────────────────────────────────

// sqlSink runs sink operations on a pool, or on a transaction when db is nil.
type sqlSink struct {
	dialect *Dialect
	q       queryer
	db      *sql.DB
}

func (s *sqlSink) NativeType(t etl.ColumnType) string { return s.dialect.NativeType(t) }

func (s *sqlSink) TableExists(ctx context.Context, id etl.TableID) (bool, error) {
	query, args := s.dialect.TableExistsQuery(id)
	var n int
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlSink) CreateTable(ctx context.Context, id etl.TableID, plan etl.SchemaPlan) error {
	ddl, err := s.dialect.CreateTableSQL(id, plan)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, ddl)
	return err
}

func (s *sqlSink) DeleteRows(ctx context.Context, id etl.TableID) error {
	_, err := s.q.ExecContext(ctx, s.dialect.DeleteSQL(id))
	return err
}

// InsertRows executes one parameterized INSERT per row. Outside a
// transaction the batch gets its own, committed after the last row; on
// failure nothing is kept and 0 is returned.
func (s *sqlSink) InsertRows(ctx context.Context, id etl.TableID, columns []string, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	query := s.dialect.InsertSQL(id, columns)
	if s.db == nil {
		return insertEach(ctx, s.q, query, rows)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	n, err := insertEach(ctx, tx, query, rows)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

func insertEach(ctx context.Context, q queryer, query string, rows [][]any) (int, error) {
	stmt, err := q.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return i, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return len(rows), nil
}

// Columns reports the column metadata of an existing table. A table that
// does not exist yields no columns.
func (s *sqlSink) Columns(ctx context.Context, id etl.TableID) ([]etl.ColumnMeta, error) {
	query, args := s.dialect.ColumnsQuery(id)
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", id, err)
	}
	defer rows.Close()

	var out []etl.ColumnMeta
	for rows.Next() {
		var (
			name, dataType, nullable string
			length, prec, scale      sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &length, &prec, &scale, &nullable); err != nil {
			return nil, fmt.Errorf("scan column of %s: %w", id, err)
		}
		out = append(out, etl.ColumnMeta{
			Name:      name,
			DataType:  dataType,
			MaxLength: nullInt(length),
			Precision: nullInt(prec),
			Scale:     nullInt(scale),
			Nullable:  strings.EqualFold(nullable, "YES"),
		})
	}
	return out, rows.Err()
}

func nullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// ── Driver types ───────────────────────────────────────────

// logicalType maps a driver's database type name onto a logical column type.
// Unknown names map to "" so the column type is inferred from its values.
func logicalType(dbType string) etl.ColumnType {
	t := strings.ToUpper(dbType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch t {
	case "":
		return ""
	case "BIT", "BOOL", "BOOLEAN":
		return etl.TypeBoolean
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT",
		"INT2", "INT4", "INT8", "UNSIGNED TINYINT", "UNSIGNED SMALLINT",
		"UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT":
		return etl.TypeInteger
	case "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE", "DOUBLE PRECISION":
		return etl.TypeFloat
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return etl.TypeDecimal
	case "BINARY", "VARBINARY", "IMAGE", "BYTEA", "BLOB", "TINYBLOB",
		"MEDIUMBLOB", "LONGBLOB":
		return etl.TypeBinary
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET",
		"TIMESTAMP", "TIMESTAMPTZ":
		return etl.TypeTimestamp
	default:
		return etl.TypeText
	}
}

// normalizeValue turns driver byte slices into strings, or into numbers for
// integer and float columns. Binary columns keep their bytes and decimal
// columns keep their exact text.
func normalizeValue(v any, typ etl.ColumnType) any {
	var s string
	switch x := v.(type) {
	case []byte:
		if typ == etl.TypeBinary {
			return x
		}
		s = string(x)
	case string:
		s = x
	default:
		return v
	}
	switch typ {
	case etl.TypeFloat:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case etl.TypeInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return s
}
