package etl

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"math"
	"reflect"
	"time"
)

// MissingTimestamp replaces absent timestamps before they reach a sink.
var MissingTimestamp = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Sanitize returns a copy of t whose cells every sink can store: absent
// timestamps become MissingTimestamp, timestamps lose sub-second precision,
// NaN and invalid nullable wrappers become nil, and boxed numerics are
// reduced to int64, float64, bool, string or []byte. t is not modified.
func Sanitize(t *Table) *Table {
	out := &Table{Columns: make([]Column, len(t.Columns)), Rows: t.Rows}
	copy(out.Columns, t.Columns)
	out.ResolveTypes()
	out.Rows = make([][]any, len(t.Rows))
	for r, row := range t.Rows {
		nr := make([]any, len(row))
		for i, v := range row {
			var typ ColumnType
			if i < len(out.Columns) {
				typ = out.Columns[i].Type
			}
			nr[i] = SanitizeValue(v, typ)
		}
		out.Rows[r] = nr
	}
	return out
}

// SanitizeValue sanitizes a single cell of a column of type typ.
func SanitizeValue(v any, typ ColumnType) any {
	v = unbox(v)
	switch x := v.(type) {
	case nil:
		if typ == TypeTimestamp {
			return MissingTimestamp
		}
		return nil
	case missingTime:
		return MissingTimestamp
	case time.Time:
		if x.IsZero() {
			return MissingTimestamp
		}
		return x.Truncate(time.Second)
	case float64:
		if math.IsNaN(x) {
			return nil
		}
		return x
	default:
		return x
	}
}

// missingTime marks a nullable time wrapper that held no value.
type missingTime struct{}

// unbox strips pointers, nullable wrappers and named scalar types.
func unbox(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case sql.NullTime:
		if !x.Valid {
			return missingTime{}
		}
		return x.Time
	case *time.Time:
		if x == nil {
			return missingTime{}
		}
		return *x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case time.Time, string, bool, int64, float64, []byte:
		return x
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil || dv == nil {
			return nil
		}
		return unbox(dv)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return unbox(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	}
	return v
}
