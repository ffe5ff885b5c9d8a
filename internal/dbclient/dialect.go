package dbclient

import (
	"fmt"
	"strconv"
	"strings"

	"etlplanner/internal/domain"
	"etlplanner/internal/etl"

	"github.com/lib/pq"
)

// Dialect holds the SQL differences between the supported engines.
type Dialect struct {
	Kind          domain.ConnectionKind
	DefaultSchema string

	quote       func(string) string
	placeholder func(n int) string
	types       map[etl.ColumnType]string
	unbounded   func(dataType string) string
	existsQuery func(id etl.TableID) (string, []any)
	colsQuery   func(id etl.TableID) (string, []any)
}

// DialectFor returns the dialect of a relational connection kind.
func DialectFor(kind domain.ConnectionKind) (*Dialect, error) {
	switch kind {
	case domain.ConnectionKindSQLServer:
		return sqlServerDialect, nil
	case domain.ConnectionKindPostgres:
		return postgresDialect, nil
	case domain.ConnectionKindMySQL:
		return mysqlDialect, nil
	case domain.ConnectionKindSQLite:
		return sqliteDialect, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a relational connection", etl.ErrUnsupportedConnectionKind, kind)
	}
}

// QuoteIdent quotes a single identifier.
func (d *Dialect) QuoteIdent(name string) string { return d.quote(name) }

// QualifiedName renders a quoted schema.table reference.
func (d *Dialect) QualifiedName(id etl.TableID) string {
	if id.Schema == "" {
		return d.quote(id.Name)
	}
	return d.quote(id.Schema) + "." + d.quote(id.Name)
}

// Placeholder returns the bind parameter for the n-th argument, starting at 1.
func (d *Dialect) Placeholder(n int) string { return d.placeholder(n) }

// NativeType maps a logical column type onto the engine's column type.
func (d *Dialect) NativeType(t etl.ColumnType) string {
	if nt, ok := d.types[t]; ok {
		return nt
	}
	return d.types[etl.TypeText]
}

// ColumnDef renders one column of a CREATE TABLE statement.
func (d *Dialect) ColumnDef(c etl.ColumnPlan) string {
	var typ string
	switch {
	case c.MaxLength:
		typ = d.unbounded(c.DataType)
	case c.Length > 0:
		typ = fmt.Sprintf("%s(%d)", c.DataType, c.Length)
	case c.Precision > 0:
		typ = fmt.Sprintf("%s(%d,%d)", c.DataType, c.Precision, c.Scale)
	default:
		typ = c.DataType
	}
	null := " NULL"
	if !c.Nullable {
		null = " NOT NULL"
	}
	return d.quote(c.Name) + " " + typ + null
}

// CreateTableSQL renders a CREATE TABLE statement for plan.
func (d *Dialect) CreateTableSQL(id etl.TableID, plan etl.SchemaPlan) (string, error) {
	if len(plan.Columns) == 0 {
		return "", fmt.Errorf("create %s: no columns", id)
	}
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(d.QualifiedName(id))
	b.WriteString(" (\n")
	for i, c := range plan.Columns {
		b.WriteString("  ")
		b.WriteString(d.ColumnDef(c))
		if i < len(plan.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String(), nil
}

// InsertSQL renders a single-row parameterized INSERT.
func (d *Dialect) InsertSQL(id etl.TableID, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = d.quote(c)
		params[i] = d.placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QualifiedName(id), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

// DeleteSQL renders a statement removing every row of id.
func (d *Dialect) DeleteSQL(id etl.TableID) string {
	return "DELETE FROM " + d.QualifiedName(id)
}

// TableExistsQuery returns a query yielding a single count.
func (d *Dialect) TableExistsQuery(id etl.TableID) (string, []any) { return d.existsQuery(id) }

// ColumnsQuery returns a query yielding, per column in ordinal order:
// name, data type, max length, precision, scale and YES/NO nullability.
func (d *Dialect) ColumnsQuery(id etl.TableID) (string, []any) { return d.colsQuery(id) }

// ── Engines ────────────────────────────────────────────────

const infoSchemaColumns = `SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE, IS_NULLABLE
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s
ORDER BY ORDINAL_POSITION`

const infoSchemaTables = `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = %s AND TABLE_NAME = %s`

func infoSchema(tmpl, schemaParam, nameParam string) func(etl.TableID) (string, []any) {
	q := fmt.Sprintf(tmpl, schemaParam, nameParam)
	return func(id etl.TableID) (string, []any) {
		return q, []any{id.Schema, id.Name}
	}
}

var sqlServerDialect = &Dialect{
	Kind:          domain.ConnectionKindSQLServer,
	DefaultSchema: "dbo",
	quote:         func(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" },
	placeholder:   func(n int) string { return "@p" + strconv.Itoa(n) },
	types: map[etl.ColumnType]string{
		etl.TypeInteger:   "BIGINT",
		etl.TypeFloat:     "FLOAT",
		etl.TypeBoolean:   "BIT",
		etl.TypeTimestamp: "DATETIME2(0)",
		etl.TypeText:      "NVARCHAR(MAX)",
		etl.TypeBinary:    "VARBINARY(MAX)",
		etl.TypeDecimal:   "DECIMAL(38,10)",
	},
	unbounded:   func(t string) string { return t + "(MAX)" },
	existsQuery: infoSchema(infoSchemaTables, "@p1", "@p2"),
	colsQuery:   infoSchema(infoSchemaColumns, "@p1", "@p2"),
}

var postgresDialect = &Dialect{
	Kind:          domain.ConnectionKindPostgres,
	DefaultSchema: "public",
	quote:         pq.QuoteIdentifier,
	placeholder:   func(n int) string { return "$" + strconv.Itoa(n) },
	types: map[etl.ColumnType]string{
		etl.TypeInteger:   "BIGINT",
		etl.TypeFloat:     "DOUBLE PRECISION",
		etl.TypeBoolean:   "BOOLEAN",
		etl.TypeTimestamp: "TIMESTAMP",
		etl.TypeText:      "TEXT",
		etl.TypeBinary:    "BYTEA",
		etl.TypeDecimal:   "NUMERIC",
	},
	unbounded:   func(t string) string { return t },
	existsQuery: infoSchema(infoSchemaTables, "$1", "$2"),
	colsQuery:   infoSchema(infoSchemaColumns, "$1", "$2"),
}

// An empty schema on MySQL means the connection's current database.
var mysqlDialect = &Dialect{
	Kind:        domain.ConnectionKindMySQL,
	quote:       func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" },
	placeholder: func(int) string { return "?" },
	types: map[etl.ColumnType]string{
		etl.TypeInteger:   "BIGINT",
		etl.TypeFloat:     "DOUBLE",
		etl.TypeBoolean:   "BOOLEAN",
		etl.TypeTimestamp: "DATETIME",
		etl.TypeText:      "LONGTEXT",
		etl.TypeBinary:    "LONGBLOB",
		etl.TypeDecimal:   "DECIMAL(65,10)",
	},
	unbounded: func(t string) string {
		switch strings.ToLower(t) {
		case "binary", "varbinary":
			return "LONGBLOB"
		default:
			return "LONGTEXT"
		}
	},
	existsQuery: infoSchema(infoSchemaTables, "COALESCE(NULLIF(?, ''), DATABASE())", "?"),
	colsQuery:   infoSchema(infoSchemaColumns, "COALESCE(NULLIF(?, ''), DATABASE())", "?"),
}

var sqliteDialect = &Dialect{
	Kind:          domain.ConnectionKindSQLite,
	DefaultSchema: "main",
	quote:         sqliteQuote,
	placeholder:   func(int) string { return "?" },
	types: map[etl.ColumnType]string{
		etl.TypeInteger:   "INTEGER",
		etl.TypeFloat:     "REAL",
		etl.TypeBoolean:   "INTEGER",
		etl.TypeTimestamp: "DATETIME",
		etl.TypeText:      "TEXT",
		etl.TypeBinary:    "BLOB",
		etl.TypeDecimal:   "NUMERIC",
	},
	unbounded: func(t string) string { return t },
	existsQuery: func(id etl.TableID) (string, []any) {
		return `SELECT COUNT(*) FROM ` + sqliteSchema(id) + `.sqlite_master WHERE type = 'table' AND name = ?`,
			[]any{id.Name}
	},
	colsQuery: func(id etl.TableID) (string, []any) {
		schema := id.Schema
		if schema == "" {
			schema = "main"
		}
		return `SELECT name, type, NULL, NULL, NULL, CASE WHEN "notnull" = 1 THEN 'NO' ELSE 'YES' END
FROM pragma_table_info(?, ?) ORDER BY cid`, []any{id.Name, schema}
	},
}

func sqliteSchema(id etl.TableID) string {
	if id.Schema == "" {
		return `"main"`
	}
	return sqliteQuote(id.Schema)
}

func sqliteQuote(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
