package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"etlplanner/internal/etl"
)

// readJSONFile reads an array of objects, or a single object, into a table.
// Columns are the union of top-level keys, sorted.
func readJSONFile(path, dataPath string) (*etl.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	if dataPath != "" {
		for _, part := range strings.Split(dataPath, ".") {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("invalid data path: %q not found", part)
			}
			raw = m[part]
		}
	}
	return objectsToTable(toObjects(raw)), nil
}

func toObjects(raw any) []map[string]any {
	switch v := raw.(type) {
	case []any:
		objs := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				objs = append(objs, m)
			}
		}
		return objs
	case map[string]any:
		return []map[string]any{v}
	default:
		return nil
	}
}

func objectsToTable(objs []map[string]any) *etl.Table {
	keys := map[string]struct{}{}
	for _, o := range objs {
		for k := range o {
			keys[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	out := &etl.Table{Columns: make([]etl.Column, len(names))}
	for i, n := range names {
		out.Columns[i] = etl.Column{Name: n}
	}
	for _, o := range objs {
		row := make([]any, len(names))
		for i, n := range names {
			row[i] = jsonScalar(o[n])
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// jsonScalar keeps scalars and serializes nested objects and arrays.
func jsonScalar(v any) any {
	switch x := v.(type) {
	case nil, string, bool:
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}
