package domain_test

import (
	"testing"

	"etlplanner/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTask() domain.Task {
	return domain.Task{
		Name:       "Sync Customers",
		Recurrence: "*/15 * * * *",
		Enabled:    true,
		Steps: []domain.Step{
			{Name: "load", Kind: domain.StepKindLoad, Order: 2, ConnectionID: "dst",
				Load: &domain.LoadConfig{Table: "dest.customers"}},
			{Name: "extract", Kind: domain.StepKindExtract, Order: 1, ConnectionID: "src",
				Extract: &domain.ExtractConfig{Query: "SELECT id, name FROM customers"}},
		},
	}
}

func TestTaskValidate(t *testing.T) {
	task := validTask()
	require.NoError(t, task.Validate())

	task.Steps[1].Order = 2
	err := task.Validate()
	require.ErrorIs(t, err, domain.ErrInvalid)
	assert.Contains(t, err.Error(), "share order 2")
}

func TestStepValidateRejectsMismatchedVariant(t *testing.T) {
	s := domain.Step{Name: "x", Kind: domain.StepKindExtract, ConnectionID: "c",
		Load: &domain.LoadConfig{Table: "t"}}
	assert.ErrorIs(t, s.Validate(), domain.ErrInvalid)

	s = domain.Step{Name: "x", Kind: "publish"}
	assert.ErrorIs(t, s.Validate(), domain.ErrInvalid)

	s = domain.Step{Name: "x", Kind: domain.StepKindLoad, ConnectionID: "c",
		Load: &domain.LoadConfig{Table: "t", Mode: "merge"}}
	assert.ErrorIs(t, s.Validate(), domain.ErrInvalid)
}

func TestOrderedStepsDoesNotMutate(t *testing.T) {
	task := validTask()
	ordered := task.OrderedSteps()

	require.Len(t, ordered, 2)
	assert.Equal(t, "extract", ordered[0].Name)
	assert.Equal(t, "load", ordered[1].Name)
	assert.Equal(t, "load", task.Steps[0].Name)
}

func TestLoadConfigDefaults(t *testing.T) {
	var cfg domain.LoadConfig
	cfg.Table = "dbo.orders"
	assert.Equal(t, domain.LoadModeAppend, cfg.LoadMode())
	assert.True(t, cfg.AutoCreate())
	assert.Equal(t, "dbo.orders", cfg.SchemaSource())

	off := false
	cfg.CreateTable = &off
	cfg.SourceTable = "sales.orders"
	assert.False(t, cfg.AutoCreate())
	assert.Equal(t, "sales.orders", cfg.SchemaSource())
}

func TestStepConfigRoundTrip(t *testing.T) {
	s := domain.Step{Name: "t", Kind: domain.StepKindTransform,
		Transform: &domain.TransformConfig{Kind: "rename", Options: map[string]any{"mapping": map[string]any{"a": "b"}}}}
	raw, err := s.MarshalConfig()
	require.NoError(t, err)

	decoded := domain.Step{Name: "t", Kind: domain.StepKindTransform}
	require.NoError(t, decoded.UnmarshalConfig(raw))
	require.NotNil(t, decoded.Transform)
	assert.Equal(t, "rename", decoded.Transform.Kind)
	assert.Nil(t, decoded.Extract)

	unknown := domain.Step{Name: "u", Kind: "publish"}
	require.NoError(t, unknown.UnmarshalConfig(`{"x":1}`))
	assert.Nil(t, unknown.Extract)
	assert.Nil(t, unknown.Transform)
	assert.Nil(t, unknown.Load)
}

func TestConnectionValidate(t *testing.T) {
	cases := []struct {
		name string
		conn domain.Connection
		ok   bool
	}{
		{"sqlserver", domain.Connection{Name: "a", Kind: domain.ConnectionKindSQLServer, Params: domain.ConnectionParams{Host: "db"}}, true},
		{"sqlserver no host", domain.Connection{Name: "a", Kind: domain.ConnectionKindSQLServer}, false},
		{"sqlite", domain.Connection{Name: "a", Kind: domain.ConnectionKindSQLite, Params: domain.ConnectionParams{Path: "/tmp/x.db"}}, true},
		{"mongo uri", domain.Connection{Name: "a", Kind: domain.ConnectionKindMongoDB, Params: domain.ConnectionParams{URI: "mongodb://x"}}, true},
		{"unknown", domain.Connection{Name: "a", Kind: "oracle", Params: domain.ConnectionParams{Host: "h"}}, false},
		{"no name", domain.Connection{Kind: domain.ConnectionKindCSV, Params: domain.ConnectionParams{Path: "/d"}}, false},
		{"bad port", domain.Connection{Name: "a", Kind: domain.ConnectionKindPostgres, Params: domain.ConnectionParams{Host: "h", Port: 70000}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.conn.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrInvalid)
			}
		})
	}
}
