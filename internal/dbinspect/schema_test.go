package dbinspect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	pingErr error
	tables  []string
	indexes map[string][]IndexInfo
	rows    map[string]int64
}

func (f *fakeInspector) Ping(context.Context) error { return f.pingErr }

func (f *fakeInspector) ListTables(context.Context) ([]string, error) { return f.tables, nil }

func (f *fakeInspector) Indexes(_ context.Context, table string) ([]IndexInfo, error) {
	return f.indexes[table], nil
}

func (f *fakeInspector) EstimateRows(_ context.Context, table string) (int64, error) {
	return f.rows[table], nil
}

func (f *fakeInspector) Close() error { return nil }

func TestCheckPassesOnCompleteSchema(t *testing.T) {
	in := &fakeInspector{
		tables: []string{"dbo.cost_records", "dbo.incidents"},
		indexes: map[string][]IndexInfo{
			"dbo.cost_records": {
				{Name: "cost_records_pkey", Unique: true, Columns: []string{"id"}},
				{Name: "cost_records_aggregate_key", Unique: true, Columns: []string{"service", "date", "environment"}},
				{Name: "cost_records_resource_key", Unique: true, Columns: []string{"date", "environment", "service", "resource_id"}},
			},
			"dbo.incidents": {{Name: "incidents_external_id_key", Unique: true, Columns: []string{"EXTERNAL_ID"}}},
		},
		rows: map[string]int64{"dbo.cost_records": 420},
	}
	reqs := []Requirement{Required[2], Required[5]}

	report, err := Check(context.Background(), in, reqs)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems())
	require.Len(t, report.Tables, 2)
	assert.Equal(t, int64(420), report.Tables[1].Rows)
}

func TestCheckReportsMissingTablesAndKeys(t *testing.T) {
	in := &fakeInspector{
		tables: []string{"monthly_budgets"},
		indexes: map[string][]IndexInfo{
			"monthly_budgets": {
				{Name: "monthly_budgets_pkey", Unique: true, Columns: []string{"id"}},
				{Name: "monthly_budgets_month_idx", Unique: false, Columns: []string{"month", "environment"}},
			},
		},
	}
	report, err := Check(context.Background(), in, []Requirement{
		{Table: "monthly_budgets", UniqueKeys: [][]string{{"month", "environment"}}},
		{Table: "sla_metrics", UniqueKeys: [][]string{{"week_start", "week_end"}}},
	})
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []string{
		"table monthly_budgets has no unique index on (month, environment)",
		"table sla_metrics is missing",
	}, report.Problems())
}

func TestCheckStopsWhenUnreachable(t *testing.T) {
	down := errors.New("ping postgres: connection refused")
	_, err := Check(context.Background(), &fakeInspector{pingErr: down}, Required)
	assert.ErrorIs(t, err, down)
}

func TestCheckMarksForeignStoresPresenceOnly(t *testing.T) {
	assert.True(t, presenceOnly(&MySQLInspector{}))
	assert.True(t, presenceOnly(&MSSQLInspector{}))
	assert.False(t, presenceOnly(&PostgresInspector{}))

	report, err := Check(context.Background(), &fakeInspector{}, nil)
	require.NoError(t, err)
	assert.False(t, report.PresenceOnly)
	assert.Empty(t, report.Note)
}

func TestRequiredCoversEveryTable(t *testing.T) {
	seen := map[string]bool{}
	for _, req := range Required {
		assert.False(t, seen[req.Table], "duplicate requirement %s", req.Table)
		seen[req.Table] = true
	}
	for _, table := range []string{"sync_logs", "integration_status", "incidents", "tasks", "uptime_requests",
		"cost_records", "cost_forecasts", "monthly_budgets", "sla_metrics", "ics_credit_balances"} {
		assert.True(t, seen[table], table)
	}
}
