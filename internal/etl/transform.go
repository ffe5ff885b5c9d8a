package etl

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"etlplanner/internal/domain"
)

// ── Built-in transformers ──────────────────────────────────
// Each builtin takes the step options and the whole input table and
// returns a new table. The input is never modified.

type tableFunc func(opts map[string]any, in *Table) (*Table, error)

var builtinTransforms = map[string]tableFunc{
	"select":  selectColumns,
	"rename":  renameColumns,
	"filter":  filterRows,
	"sort":    sortRows,
	"limit":   limitRows,
	"dedupe":  dedupeRows,
	"cast":    castColumn,
	"compute": computeColumns,
}

// RegisterBuiltinTransforms adds the built-in transformers to r.
func RegisterBuiltinTransforms(r *Registry) {
	for name, fn := range builtinTransforms {
		fn := fn
		name := name
		r.RegisterTransformer(name, TransformerFunc(func(ctx context.Context, cfg domain.TransformConfig, in *Table) (*Table, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := fn(cfg.Options, in)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			return out, nil
		}))
	}
}

// selectColumns keeps only the listed columns, in the listed order.
func selectColumns(opts map[string]any, in *Table) (*Table, error) {
	fields := optStrings(opts, "fields")
	if len(fields) == 0 {
		return nil, fmt.Errorf("option fields is required")
	}
	idx := make([]int, len(fields))
	out := &Table{Columns: make([]Column, len(fields))}
	for i, f := range fields {
		j := in.Index(f)
		if j < 0 {
			return nil, fmt.Errorf("unknown column %q", f)
		}
		idx[i] = j
		out.Columns[i] = in.Columns[j]
	}
	out.Rows = make([][]any, len(in.Rows))
	for r, row := range in.Rows {
		nr := make([]any, len(idx))
		for i, j := range idx {
			nr[i] = row[j]
		}
		out.Rows[r] = nr
	}
	return out, nil
}

// renameColumns applies an old→new name mapping.
func renameColumns(opts map[string]any, in *Table) (*Table, error) {
	mapping, _ := opts["mapping"].(map[string]any)
	if len(mapping) == 0 {
		return nil, fmt.Errorf("option mapping is required")
	}
	out := in.Clone()
	for i, c := range out.Columns {
		if v, ok := mapping[c.Name]; ok {
			out.Columns[i].Name = fmt.Sprint(v)
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// filterRows keeps rows whose field matches the comparison.
func filterRows(opts map[string]any, in *Table) (*Table, error) {
	field := optString(opts, "field")
	op := optString(opts, "op")
	value := opts["value"]
	j := in.Index(field)
	if j < 0 {
		return nil, fmt.Errorf("unknown column %q", field)
	}
	var match func(v any) bool
	switch op {
	case "eq":
		match = func(v any) bool { return fmt.Sprint(v) == fmt.Sprint(value) }
	case "neq":
		match = func(v any) bool { return fmt.Sprint(v) != fmt.Sprint(value) }
	case "contains":
		match = func(v any) bool { return strings.Contains(fmt.Sprint(v), fmt.Sprint(value)) }
	case "gt":
		match = func(v any) bool { return compareValues(v, value) > 0 }
	case "lt":
		match = func(v any) bool { return compareValues(v, value) < 0 }
	case "not_null":
		match = func(v any) bool { return v != nil }
	default:
		return nil, fmt.Errorf("unknown op %q", op)
	}
	out := &Table{Columns: append([]Column(nil), in.Columns...)}
	for _, row := range in.Rows {
		if match(row[j]) {
			out.Rows = append(out.Rows, append([]any(nil), row...))
		}
	}
	return out, nil
}

// sortRows orders rows by one column. The sort is stable.
func sortRows(opts map[string]any, in *Table) (*Table, error) {
	field := optString(opts, "field")
	j := in.Index(field)
	if j < 0 {
		return nil, fmt.Errorf("unknown column %q", field)
	}
	dir := 1
	if optString(opts, "direction") == "desc" {
		dir = -1
	}
	out := in.Clone()
	sort.SliceStable(out.Rows, func(a, b int) bool {
		return compareValues(out.Rows[a][j], out.Rows[b][j])*dir < 0
	})
	return out, nil
}

// limitRows keeps the first count rows.
func limitRows(opts map[string]any, in *Table) (*Table, error) {
	n, ok := optInt(opts, "count")
	if !ok || n < 0 {
		return nil, fmt.Errorf("option count must be a non-negative number")
	}
	out := in.Clone()
	if n < len(out.Rows) {
		out.Rows = out.Rows[:n]
	}
	return out, nil
}

// dedupeRows drops rows whose key column (or whole row, without a key) was already seen.
func dedupeRows(opts map[string]any, in *Table) (*Table, error) {
	key := optString(opts, "key")
	j := -1
	if key != "" {
		if j = in.Index(key); j < 0 {
			return nil, fmt.Errorf("unknown column %q", key)
		}
	}
	seen := make(map[string]bool, len(in.Rows))
	out := &Table{Columns: append([]Column(nil), in.Columns...)}
	for _, row := range in.Rows {
		var k string
		if j >= 0 {
			k = fmt.Sprint(row[j])
		} else {
			k = fmt.Sprintf("%v", row)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out.Rows = append(out.Rows, append([]any(nil), row...))
	}
	return out, nil
}

// castColumn converts one column to integer, float, boolean or text.
func castColumn(opts map[string]any, in *Table) (*Table, error) {
	field := optString(opts, "field")
	j := in.Index(field)
	if j < 0 {
		return nil, fmt.Errorf("unknown column %q", field)
	}
	to := ColumnType(optString(opts, "to"))
	var conv func(any) any
	switch to {
	case TypeInteger:
		conv = func(v any) any { return int64(toFloat(v)) }
	case TypeFloat:
		conv = func(v any) any { return toFloat(v) }
	case TypeBoolean:
		conv = func(v any) any { return toBool(v) }
	case TypeText:
		conv = func(v any) any {
			if b, ok := v.([]byte); ok {
				return string(b)
			}
			return fmt.Sprint(v)
		}
	default:
		return nil, fmt.Errorf("cannot cast to %q", to)
	}
	out := in.Clone()
	out.Columns[j].Type = to
	for _, row := range out.Rows {
		if row[j] != nil {
			row[j] = conv(row[j])
		}
	}
	return out, nil
}

// computeColumns adds or overwrites columns from {field} templates.
// A result that parses as a number is stored as float.
func computeColumns(opts map[string]any, in *Table) (*Table, error) {
	specs, _ := opts["columns"].([]any)
	if len(specs) == 0 {
		return nil, fmt.Errorf("option columns is required")
	}
	out := in.Clone()
	for _, s := range specs {
		m, _ := s.(map[string]any)
		name := optString(m, "name")
		expr := optString(m, "expression")
		if name == "" || expr == "" {
			return nil, fmt.Errorf("computed column needs name and expression")
		}
		j := out.Index(name)
		if j < 0 {
			out.Columns = append(out.Columns, Column{Name: name})
			for i := range out.Rows {
				out.Rows[i] = append(out.Rows[i], nil)
			}
			j = len(out.Columns) - 1
		}
		out.Columns[j].Type = ""
		for _, row := range out.Rows {
			row[j] = evaluateExpr(out.Columns, row, expr)
		}
	}
	out.ResolveTypes()
	return out, nil
}

func evaluateExpr(cols []Column, row []any, expr string) any {
	resolved := expr
	for i, c := range cols {
		placeholder := "{" + c.Name + "}"
		if strings.Contains(resolved, placeholder) {
			resolved = strings.ReplaceAll(resolved, placeholder, fmt.Sprint(row[i]))
		}
	}
	if f, err := strconv.ParseFloat(resolved, 64); err == nil {
		return f
	}
	return resolved
}

// ── Helpers ────────────────────────────────────────────────

func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

func optStrings(opts map[string]any, key string) []string {
	switch v := opts[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			out = append(out, fmt.Sprint(s))
		}
		return out
	default:
		return nil
	}
}

func optInt(opts map[string]any, key string) (int, bool) {
	switch n := opts[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	fa, aOk := toFloatSafe(a)
	fb, bOk := toFloatSafe(b)
	if aOk && bOk {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloatSafe(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toFloat(v any) float64 {
	f, _ := toFloatSafe(v)
	return f
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		lower := strings.ToLower(b)
		return lower == "true" || lower == "yes" || lower == "1"
	case float64:
		return b != 0
	case int64:
		return b != 0
	case int:
		return b != 0
	default:
		return false
	}
}
