package etl

import (
	"fmt"
	"time"
)

// ── Tabular value ──────────────────────────────────────────
// A Table is the in-memory value passed between steps: named, typed
// columns and rows of positional cells.

// ColumnType is the logical type of a column.
type ColumnType string

const (
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeText      ColumnType = "text"
	TypeBinary    ColumnType = "binary"
	TypeNull      ColumnType = "null" // every value seen so far was nil

	// TypeDecimal holds exact numerics. Values are decimal strings, or
	// numbers when the driver reports them that way.
	TypeDecimal ColumnType = "decimal"
)

// Column describes one column of a Table.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Table is an ordered set of columns and the rows that fill them.
// Each row has exactly one cell per column.
type Table struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewTable returns an empty table with the given columns.
func NewTable(cols ...Column) *Table {
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnNames returns the column names in order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks that column names are unique and every row matches the column count.
func (t *Table) Validate() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("table has a column without a name")
		}
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d values, want %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}

// Clone returns a copy that shares no row slices with t.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: make([]Column, len(t.Columns)),
		Rows:    make([][]any, len(t.Rows)),
	}
	copy(out.Columns, t.Columns)
	for i, row := range t.Rows {
		r := make([]any, len(row))
		copy(r, row)
		out.Rows[i] = r
	}
	return out
}

// ResolveTypes fills in columns without a declared type from the first
// non-nil value in each column. Columns with only nil values become TypeNull.
func (t *Table) ResolveTypes() {
	for i := range t.Columns {
		if t.Columns[i].Type != "" && t.Columns[i].Type != TypeNull {
			continue
		}
		typ := TypeNull
		for _, row := range t.Rows {
			if i >= len(row) {
				continue
			}
			if typ = InferType(row[i]); typ != TypeNull {
				break
			}
		}
		t.Columns[i].Type = typ
	}
}

// InferType maps a Go value onto a ColumnType.
func InferType(v any) ColumnType {
	switch unbox(v).(type) {
	case nil:
		return TypeNull
	case int64:
		return TypeInteger
	case float64:
		return TypeFloat
	case bool:
		return TypeBoolean
	case time.Time, missingTime:
		return TypeTimestamp
	case []byte:
		return TypeBinary
	default:
		return TypeText
	}
}
