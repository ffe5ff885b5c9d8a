package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
)

// ── Flat File Source ───────────────────────────────────────
// A csv connection points at a directory; the step's query names a file in
// it. Files ending in .json are read as JSON, everything else as CSV.
//
// Connection options: delimiter (default ","), header ("false" generates
// col_1, col_2, ...), data_path (dot path to the array inside a JSON file).

// FlatFile extracts from files under a connection's directory.
type FlatFile struct{}

func (FlatFile) Extract(ctx context.Context, conn domain.Connection, cfg domain.ExtractConfig) (*etl.Table, error) {
	name := strings.TrimSpace(cfg.Query)
	if !filepath.IsLocal(name) {
		return nil, fmt.Errorf("file %q must be relative to %s", name, conn.Params.Path)
	}
	path := filepath.Join(conn.Params.Path, name)
	if strings.EqualFold(filepath.Ext(name), ".json") {
		return readJSONFile(path, conn.Params.Options["data_path"])
	}
	return readCSVFile(path, conn.Params.Options)
}

func readCSVFile(path string, opts map[string]string) (*etl.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if delim := opts["delimiter"]; delim != "" {
		reader.Comma = []rune(delim)[0]
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty csv file")
	}

	var headers []string
	rows := records
	if !strings.EqualFold(opts["header"], "false") {
		headers, rows = records[0], records[1:]
	} else {
		headers = make([]string, len(records[0]))
		for i := range headers {
			headers[i] = fmt.Sprintf("col_%d", i+1)
		}
	}

	out := &etl.Table{Columns: make([]etl.Column, len(headers))}
	for i, h := range headers {
		out.Columns[i] = etl.Column{Name: strings.TrimSpace(h)}
	}
	for _, rec := range rows {
		row := make([]any, len(headers))
		for j := range headers {
			if j < len(rec) {
				row[j] = inferCSVValue(rec[j])
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

var csvTimeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

// inferCSVValue parses a cell as an integer, float, bool or timestamp and
// falls back to the trimmed text. Empty cells are nil.
func inferCSVValue(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	for _, layout := range csvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return s
}
