package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ── Relational sinks ───────────────────────────────────────
// A Sink is a destination that stores tables by schema-qualified name.
// The dialect-specific SQL lives behind it in dbclient.

// TableID is a schema-qualified table name.
type TableID struct {
	Schema string
	Name   string
}

// ParseTableID splits "schema.table". A bare name gets defaultSchema.
func ParseTableID(s, defaultSchema string) TableID {
	if schema, name, ok := strings.Cut(s, "."); ok {
		return TableID{Schema: schema, Name: name}
	}
	return TableID{Schema: defaultSchema, Name: s}
}

func (id TableID) String() string {
	if id.Schema == "" {
		return id.Name
	}
	return id.Schema + "." + id.Name
}

// ColumnPlan is one column of a table about to be created.
type ColumnPlan struct {
	Name      string
	DataType  string
	Nullable  bool
	Length    int  // declared length for length-bearing types, 0 when absent
	MaxLength bool // unbounded length
	Precision int
	Scale     int
}

// SchemaPlan is the ordered column list of a table about to be created.
type SchemaPlan struct {
	Columns []ColumnPlan
}

// ColumnMeta is column metadata as reported by a catalog.
// MaxLength of -1 means unbounded.
type ColumnMeta struct {
	Name      string
	DataType  string
	MaxLength *int
	Precision *int
	Scale     *int
	Nullable  bool
}

// Sink is a relational destination.
type Sink interface {
	TableExists(ctx context.Context, id TableID) (bool, error)
	CreateTable(ctx context.Context, id TableID, plan SchemaPlan) error
	DeleteRows(ctx context.Context, id TableID) error
	// InsertRows inserts rows one parameterized statement at a time and
	// commits once after the last row. It returns the number of rows written.
	InsertRows(ctx context.Context, id TableID, columns []string, rows [][]any) (int, error)
	// NativeType returns the sink's type for a logical column type.
	NativeType(t ColumnType) string
}

// Catalog reports the column metadata of existing tables.
type Catalog interface {
	Columns(ctx context.Context, id TableID) ([]ColumnMeta, error)
}

// Transactor is implemented by sinks that can run several operations atomically.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(Sink) error) error
}

var errNoMetadata = errors.New("no usable source column metadata")

// ── Reconciler ─────────────────────────────────────────────

// Reconciler makes sure a destination table exists before a load.
// Existing tables are never altered.
type Reconciler struct {
	Sink Sink

	// Source and SourceTable, when set, describe the table whose column
	// definitions are copied into a newly created destination.
	Source      Catalog
	SourceTable TableID

	Logger *slog.Logger
}

// EnsureDestination creates target from data's shape if it does not exist.
func (r *Reconciler) EnsureDestination(ctx context.Context, data *Table, target TableID) error {
	exists, err := r.Sink.TableExists(ctx, target)
	if err != nil {
		return fmt.Errorf("check table %s: %w", target, err)
	}
	if exists {
		return nil
	}

	plan, err := r.plan(ctx, data)
	if err != nil {
		return err
	}
	if err := r.Sink.CreateTable(ctx, target, plan); err != nil {
		return fmt.Errorf("create table %s: %w", target, err)
	}
	r.logger().Info("destination created", "table", target.String(), "columns", len(plan.Columns))
	return nil
}

func (r *Reconciler) plan(ctx context.Context, data *Table) (SchemaPlan, error) {
	if len(data.Columns) == 0 {
		return SchemaPlan{}, fmt.Errorf("cannot derive a table from data without columns")
	}
	if r.Source != nil {
		meta, err := r.Source.Columns(ctx, r.SourceTable)
		if err == nil {
			var plan SchemaPlan
			if plan, err = PlanFromMetadata(meta, data); err == nil {
				return plan, nil
			}
		}
		r.logger().Warn("source metadata unavailable, deriving schema from data",
			"source_table", r.SourceTable.String(), "error", err)
	}
	return PlanFromTable(data, r.Sink), nil
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

// PlanFromMetadata keeps the metadata columns present in data, in metadata order.
func PlanFromMetadata(meta []ColumnMeta, data *Table) (SchemaPlan, error) {
	var plan SchemaPlan
	for _, m := range meta {
		if data.Index(m.Name) < 0 {
			continue
		}
		col := ColumnPlan{Name: m.Name, DataType: m.DataType, Nullable: m.Nullable}
		switch strings.ToLower(m.DataType) {
		case "char", "varchar", "nchar", "nvarchar", "binary", "varbinary", "character", "character varying":
			if m.MaxLength != nil {
				if *m.MaxLength == -1 {
					col.MaxLength = true
				} else {
					col.Length = *m.MaxLength
				}
			}
		case "decimal", "numeric":
			col.Precision, col.Scale = 18, 0
			if m.Precision != nil {
				col.Precision = *m.Precision
			}
			if m.Scale != nil {
				col.Scale = *m.Scale
			}
		}
		plan.Columns = append(plan.Columns, col)
	}
	if len(plan.Columns) == 0 {
		return SchemaPlan{}, errNoMetadata
	}
	return plan, nil
}

// PlanFromTable maps each column's logical type onto the sink's native type.
// Columns without a declared type are inferred from their values.
func PlanFromTable(data *Table, sink Sink) SchemaPlan {
	typed := &Table{Columns: append([]Column(nil), data.Columns...), Rows: data.Rows}
	typed.ResolveTypes()
	plan := SchemaPlan{Columns: make([]ColumnPlan, len(typed.Columns))}
	for i, c := range typed.Columns {
		plan.Columns[i] = ColumnPlan{Name: c.Name, DataType: sink.NativeType(c.Type), Nullable: true}
	}
	return plan
}
