package etl_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"etlplanner/internal/domain"
	"etlplanner/internal/etl"
)

// ─────────────────────────────────────────────────────────────
// In-memory collaborators shared by the etl tests
// ─────────────────────────────────────────────────────────────

type memConnections map[string]domain.Connection

func (m memConnections) GetConnection(_ context.Context, id string) (*domain.Connection, error) {
	c, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

type historyEntry struct {
	TaskID   string
	Status   domain.ExecutionStatus
	Message  string
	Closes   int
	Finished bool
}

type memHistory struct {
	mu       sync.Mutex
	entries  map[string]*historyEntry
	order    []string
	startErr error
}

func newMemHistory() *memHistory {
	return &memHistory{entries: map[string]*historyEntry{}}
}

func (h *memHistory) LogExecutionStart(_ context.Context, taskID string, _ time.Time) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.startErr != nil {
		return "", h.startErr
	}
	id := fmt.Sprintf("exec-%d", len(h.order)+1)
	h.entries[id] = &historyEntry{TaskID: taskID, Status: domain.ExecutionRunning}
	h.order = append(h.order, id)
	return id, nil
}

func (h *memHistory) LogExecutionEnd(_ context.Context, id string, _ time.Time, status domain.ExecutionStatus, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Status, e.Message, e.Finished = status, message, true
	e.Closes++
	return nil
}

func (h *memHistory) all() []historyEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]historyEntry, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, *h.entries[id])
	}
	return out
}

type memTable struct {
	plan etl.SchemaPlan
	cols []string
	rows [][]any
}

// memSink is an in-memory relational sink. failInsertAt makes the insert of
// that row index fail.
type memSink struct {
	mu           sync.Mutex
	tables       map[string]*memTable
	creates      int
	deletes      int
	failInsertAt int
	ops          []string
}

func newMemSink() *memSink {
	return &memSink{tables: map[string]*memTable{}, failInsertAt: -1}
}

func (s *memSink) TableExists(_ context.Context, id etl.TableID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[id.String()]
	return ok, nil
}

func (s *memSink) CreateTable(_ context.Context, id etl.TableID, plan etl.SchemaPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[id.String()]; ok {
		return fmt.Errorf("table %s already exists", id)
	}
	s.creates++
	s.ops = append(s.ops, "create")
	s.tables[id.String()] = &memTable{plan: plan}
	return nil
}

func (s *memSink) DeleteRows(_ context.Context, id etl.TableID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[id.String()]
	if !ok {
		return fmt.Errorf("no table %s", id)
	}
	s.deletes++
	s.ops = append(s.ops, "delete")
	t.rows = nil
	return nil
}

func (s *memSink) InsertRows(_ context.Context, id etl.TableID, cols []string, rows [][]any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[id.String()]
	if !ok {
		return 0, fmt.Errorf("no table %s", id)
	}
	s.ops = append(s.ops, "insert")
	t.cols = cols
	for i, r := range rows {
		if i == s.failInsertAt {
			return 0, fmt.Errorf("row %d: constraint violation", i)
		}
		t.rows = append(t.rows, r)
	}
	return len(rows), nil
}

func (s *memSink) NativeType(t etl.ColumnType) string {
	switch t {
	case etl.TypeInteger:
		return "BIGINT"
	case etl.TypeFloat:
		return "FLOAT"
	case etl.TypeBoolean:
		return "BIT"
	case etl.TypeTimestamp:
		return "DATETIME2"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (s *memSink) table(name string) *memTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[name]
}

// txSink adds Transactor to memSink. A failed transaction restores the rows.
type txSink struct {
	*memSink
	txs int
}

func (s *txSink) WithinTx(ctx context.Context, fn func(etl.Sink) error) error {
	s.txs++
	s.mu.Lock()
	snapshot := map[string][][]any{}
	for k, t := range s.tables {
		snapshot[k] = append([][]any(nil), t.rows...)
	}
	s.mu.Unlock()
	if err := fn(s.memSink); err != nil {
		s.mu.Lock()
		for k, rows := range snapshot {
			s.tables[k].rows = rows
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

type memCatalog struct {
	meta map[string][]etl.ColumnMeta
	err  error
}

func (c memCatalog) Columns(_ context.Context, id etl.TableID) ([]etl.ColumnMeta, error) {
	if c.err != nil {
		return nil, c.err
	}
	m, ok := c.meta[id.String()]
	if !ok {
		return nil, errors.New("no such table")
	}
	return m, nil
}

func intPtr(n int) *int { return &n }

func customers() *etl.Table {
	return &etl.Table{
		Columns: []etl.Column{{Name: "id", Type: etl.TypeInteger}, {Name: "name", Type: etl.TypeText}},
		Rows:    [][]any{{int64(1), "A"}, {int64(2), "B"}, {int64(3), "C"}},
	}
}

func planNames(p etl.SchemaPlan) string {
	names := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
	}
	return strings.Join(names, ",")
}
