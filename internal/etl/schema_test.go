package etl_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"etlplanner/internal/etl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDestinationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	rec := &etl.Reconciler{Sink: sink}
	target := etl.ParseTableID("dest.customers", "dbo")

	require.NoError(t, rec.EnsureDestination(ctx, customers(), target))
	require.NoError(t, rec.EnsureDestination(ctx, customers(), target))

	assert.Equal(t, 1, sink.creates)
	plan := sink.table("dest.customers").plan
	assert.Equal(t, "id,name", planNames(plan))
	assert.Equal(t, "BIGINT", plan.Columns[0].DataType)
	assert.Equal(t, "NVARCHAR(MAX)", plan.Columns[1].DataType)
}

func TestEnsureDestinationLeavesExistingTableAlone(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	target := etl.TableID{Schema: "dbo", Name: "t"}
	require.NoError(t, sink.CreateTable(ctx, target, etl.SchemaPlan{Columns: []etl.ColumnPlan{{Name: "other", DataType: "INT"}}}))

	rec := &etl.Reconciler{Sink: sink}
	require.NoError(t, rec.EnsureDestination(ctx, customers(), target))
	assert.Equal(t, "other", planNames(sink.table("dbo.t").plan))
}

func TestEnsureDestinationFromSourceMetadata(t *testing.T) {
	ctx := context.Background()
	sink := newMemSink()
	catalog := memCatalog{meta: map[string][]etl.ColumnMeta{
		"sales.customers": {
			{Name: "name", DataType: "nvarchar", MaxLength: intPtr(-1), Nullable: true},
			{Name: "email", DataType: "varchar", MaxLength: intPtr(120)},
			{Name: "code", DataType: "char", MaxLength: intPtr(3)},
			{Name: "balance", DataType: "decimal", Precision: intPtr(12), Scale: intPtr(2)},
			{Name: "id", DataType: "int"},
		},
	}}
	data := &etl.Table{
		Columns: []etl.Column{{Name: "id"}, {Name: "name"}, {Name: "code"}, {Name: "balance"}},
	}

	rec := &etl.Reconciler{Sink: sink, Source: catalog, SourceTable: etl.TableID{Schema: "sales", Name: "customers"}}
	require.NoError(t, rec.EnsureDestination(ctx, data, etl.TableID{Schema: "dbo", Name: "customers"}))

	plan := sink.table("dbo.customers").plan
	assert.Equal(t, "name,code,balance,id", planNames(plan), "source order, unmatched columns dropped")
	assert.Equal(t, etl.ColumnPlan{Name: "name", DataType: "nvarchar", Nullable: true, MaxLength: true}, plan.Columns[0])
	assert.Equal(t, etl.ColumnPlan{Name: "code", DataType: "char", Length: 3}, plan.Columns[1])
	assert.Equal(t, etl.ColumnPlan{Name: "balance", DataType: "decimal", Precision: 12, Scale: 2}, plan.Columns[2])
	assert.Equal(t, etl.ColumnPlan{Name: "id", DataType: "int"}, plan.Columns[3])
}

func TestPlanFromMetadataDecimalDefaults(t *testing.T) {
	plan, err := etl.PlanFromMetadata([]etl.ColumnMeta{{Name: "amount", DataType: "NUMERIC", Nullable: true}},
		&etl.Table{Columns: []etl.Column{{Name: "amount"}}})
	require.NoError(t, err)
	assert.Equal(t, 18, plan.Columns[0].Precision)
	assert.Equal(t, 0, plan.Columns[0].Scale)
}

func TestEnsureDestinationFallsBackWithWarning(t *testing.T) {
	cases := map[string]memCatalog{
		"catalog error":      {err: errors.New("login failed")},
		"empty intersection": {meta: map[string][]etl.ColumnMeta{"dbo.src": {{Name: "unrelated", DataType: "int"}}}},
		"missing table":      {meta: map[string][]etl.ColumnMeta{}},
	}
	for name, catalog := range cases {
		t.Run(name, func(t *testing.T) {
			var logs bytes.Buffer
			sink := newMemSink()
			rec := &etl.Reconciler{
				Sink:        sink,
				Source:      catalog,
				SourceTable: etl.TableID{Schema: "dbo", Name: "src"},
				Logger:      slog.New(slog.NewTextHandler(&logs, nil)),
			}
			require.NoError(t, rec.EnsureDestination(context.Background(), customers(), etl.TableID{Schema: "dbo", Name: "dst"}))

			plan := sink.table("dbo.dst").plan
			assert.Equal(t, "id,name", planNames(plan))
			assert.Equal(t, "BIGINT", plan.Columns[0].DataType)
			assert.Contains(t, logs.String(), "level=WARN")
		})
	}
}

func TestEnsureDestinationRejectsColumnlessData(t *testing.T) {
	rec := &etl.Reconciler{Sink: newMemSink()}
	err := rec.EnsureDestination(context.Background(), etl.NewTable(), etl.TableID{Schema: "dbo", Name: "x"})
	assert.Error(t, err)
}
