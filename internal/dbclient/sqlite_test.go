package dbclient_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"etlplanner/internal/dbclient"
	"etlplanner/internal/domain"
	"etlplanner/internal/etl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *dbclient.SQLConnector {
	t.Helper()
	conn := domain.Connection{
		Name:   "local",
		Kind:   domain.ConnectionKindSQLite,
		Params: domain.ConnectionParams{Path: filepath.Join(t.TempDir(), "warehouse.db")},
	}
	c, err := dbclient.OpenSQL(conn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Ping(context.Background()))
	return c
}

var customersID = etl.TableID{Schema: "main", Name: "customers"}

func createCustomers(t *testing.T, c *dbclient.SQLConnector) {
	t.Helper()
	err := c.CreateTable(context.Background(), customersID, etl.SchemaPlan{Columns: []etl.ColumnPlan{
		{Name: "id", DataType: "INTEGER", Nullable: false},
		{Name: "name", DataType: "VARCHAR", Length: 40, Nullable: true},
	}})
	require.NoError(t, err)
}

func TestSQLiteSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)

	exists, err := c.TableExists(ctx, customersID)
	require.NoError(t, err)
	assert.False(t, exists)

	createCustomers(t, c)
	exists, err = c.TableExists(ctx, customersID)
	require.NoError(t, err)
	assert.True(t, exists)

	n, err := c.InsertRows(ctx, customersID, []string{"id", "name"}, [][]any{{int64(1), "Ada"}, {int64(2), nil}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tbl, err := c.Query(ctx, "SELECT id, name FROM customers ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, tbl.ColumnNames())
	assert.Equal(t, etl.TypeInteger, tbl.Columns[0].Type)
	assert.Equal(t, [][]any{{int64(1), "Ada"}, {int64(2), nil}}, tbl.Rows)

	require.NoError(t, c.DeleteRows(ctx, customersID))
	tbl, err = c.Query(ctx, "SELECT COUNT(*) AS n FROM customers")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tbl.Rows[0][0])
}

func TestSQLiteColumns(t *testing.T) {
	c := openSQLite(t)
	createCustomers(t, c)

	cols, err := c.Columns(context.Background(), customersID)
	require.NoError(t, err)
	require.Len(t, cols, 2)
	assert.Equal(t, "id", cols[0].Name)
	assert.Equal(t, "INTEGER", cols[0].DataType)
	assert.False(t, cols[0].Nullable)
	assert.Equal(t, "VARCHAR(40)", cols[1].DataType)
	assert.True(t, cols[1].Nullable)
	assert.Nil(t, cols[1].MaxLength)

	missing, err := c.Columns(context.Background(), etl.TableID{Schema: "main", Name: "nope"})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestSQLiteInsertFailureKeepsNothing(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)
	createCustomers(t, c)

	_, err := c.InsertRows(ctx, customersID, []string{"id", "name"}, [][]any{{int64(1), "Ada"}, {nil, "Bob"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 1")

	tbl, err := c.Query(ctx, "SELECT COUNT(*) FROM customers")
	require.NoError(t, err)
	assert.Equal(t, int64(0), tbl.Rows[0][0])
}

func TestSQLiteWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)
	createCustomers(t, c)
	_, err := c.InsertRows(ctx, customersID, []string{"id", "name"}, [][]any{{int64(1), "Ada"}})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = c.WithinTx(ctx, func(s etl.Sink) error {
		if err := s.DeleteRows(ctx, customersID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	tbl, err := c.Query(ctx, "SELECT name FROM customers")
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"Ada"}}, tbl.Rows)
}

func TestSQLiteWriterCreatesTableFromData(t *testing.T) {
	ctx := context.Background()
	c := openSQLite(t)
	data := &etl.Table{
		Columns: []etl.Column{{Name: "sku"}, {Name: "price"}, {Name: "active"}},
		Rows:    [][]any{{"A-1", 9.5, true}, {"B-2", 12.0, false}},
	}
	w := &etl.SinkWriter{Sink: c, AtomicReplace: true}
	target := etl.ParseTableID("products", c.Dialect().DefaultSchema)

	n, err := w.Write(ctx, data, target, domain.LoadModeReplace, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = w.Write(ctx, data, target, domain.LoadModeReplace, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cols, err := c.Columns(ctx, target)
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "TEXT", cols[0].DataType)
	assert.Equal(t, "REAL", cols[1].DataType)
	assert.Equal(t, "INTEGER", cols[2].DataType)

	tbl, err := c.Query(ctx, "SELECT COUNT(*) FROM products")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tbl.Rows[0][0])
}
