package sinks

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
	"etlplanner/internal/metrics"
)

// CSV loads tables into CSV files under a connection's directory.
type CSV struct {
	Metrics metrics.Recorder
	Logger  *slog.Logger
}

func (l *CSV) Load(ctx context.Context, conn domain.Connection, cfg domain.LoadConfig, data *etl.Table) error {
	sink := &CSVSink{Dir: conn.Params.Path}
	w := &etl.SinkWriter{Sink: sink, Logger: l.Logger}
	n, err := w.Write(ctx, data, etl.ParseTableID(cfg.Table, ""), cfg.LoadMode(), cfg.AutoCreate())
	metrics.OrNop(l.Metrics).RecordRows("written", n)
	if err != nil {
		return err
	}
	logger(l.Logger).Info("rows loaded", "connection", conn.Name, "table", cfg.Table, "rows", n)
	return nil
}

// CSVSink stores each table as <Dir>/<schema>/<table>.csv with a header row.
type CSVSink struct {
	Dir string
}

var _ etl.Sink = (*CSVSink)(nil)

// Path returns the file backing id.
func (s *CSVSink) Path(id etl.TableID) (string, error) {
	rel := id.Name + ".csv"
	if id.Schema != "" {
		rel = filepath.Join(id.Schema, rel)
	}
	if id.Name == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid csv table %q", id.String())
	}
	return filepath.Join(s.Dir, rel), nil
}

func (s *CSVSink) NativeType(t etl.ColumnType) string { return string(t) }

func (s *CSVSink) TableExists(_ context.Context, id etl.TableID) (bool, error) {
	path, err := s.Path(id)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *CSVSink) CreateTable(_ context.Context, id etl.TableID, plan etl.SchemaPlan) error {
	header := make([]string, len(plan.Columns))
	for i, c := range plan.Columns {
		header[i] = c.Name
	}
	return s.rewrite(id, header)
}

// DeleteRows truncates the file to its header.
func (s *CSVSink) DeleteRows(_ context.Context, id etl.TableID) error {
	header, err := s.header(id)
	if err != nil {
		return err
	}
	return s.rewrite(id, header)
}

// InsertRows appends rows, placing each value under the header column of
// the same name. Header columns absent from columns are left empty.
func (s *CSVSink) InsertRows(_ context.Context, id etl.TableID, columns []string, rows [][]any) (int, error) {
	header, err := s.header(id)
	if err != nil {
		return 0, err
	}
	pos := make([]int, len(columns))
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	for i, c := range columns {
		p, ok := index[c]
		if !ok {
			return 0, fmt.Errorf("column %q not in %s", c, id)
		}
		pos[i] = p
	}

	path, _ := s.Path(id)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	record := make([]string, len(header))
	for _, row := range rows {
		clear(record)
		for i, v := range row {
			record[pos[i]] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return len(rows), f.Close()
}

func (s *CSVSink) header(id etl.TableID) ([]string, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", id, err)
	}
	return header, nil
}

func (s *CSVSink) rewrite(id etl.TableID, header []string) error {
	path, err := s.Path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	default:
		return fmt.Sprint(x)
	}
}
