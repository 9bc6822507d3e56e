package dbinspect

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Requirement is a table the sync engine writes plus the unique keys its
// upserts conflict on.
type Requirement struct {
	Table      string
	UniqueKeys [][]string
}

// Required mirrors the natural keys in migrations/001_init.sql.
var Required = []Requirement{
	{Table: "sync_logs", UniqueKeys: [][]string{{"id"}}},
	{Table: "integration_status", UniqueKeys: [][]string{{"integration_name"}}},
	{Table: "incidents", UniqueKeys: [][]string{{"external_id"}}},
	{Table: "tasks", UniqueKeys: [][]string{{"external_id"}}},
	{Table: "uptime_requests", UniqueKeys: [][]string{{"external_id"}}},
	{Table: "cost_records", UniqueKeys: [][]string{
		{"date", "environment", "service"},
		{"date", "environment", "service", "resource_id"},
	}},
	{Table: "cost_forecasts", UniqueKeys: [][]string{{"forecast_date", "environment", "scenario"}}},
	{Table: "monthly_budgets", UniqueKeys: [][]string{{"month", "environment"}}},
	{Table: "sla_metrics", UniqueKeys: [][]string{{"week_start", "week_end"}}},
	{Table: "ics_credit_balances"},
}

type TableReport struct {
	Table       string     `json:"table"`
	Present     bool       `json:"present"`
	MissingKeys [][]string `json:"missingKeys,omitempty"`
	Rows        int64      `json:"estimatedRows"`
}

// Report is the outcome of Check. PresenceOnly is set for non-postgres
// stores: the engine writes through pgx and cost_records relies on partial
// unique indexes, so a passing report there only says the tables and keys
// exist.
type Report struct {
	Tables       []TableReport `json:"tables"`
	PresenceOnly bool          `json:"presenceOnly,omitempty"`
	Note         string        `json:"note,omitempty"`
}

const presenceOnlyNote = "non-postgres store: table and key presence only; cost_records upserts need postgres partial unique indexes"

func presenceOnly(in Inspector) bool {
	switch in.(type) {
	case *MySQLInspector, *MSSQLInspector:
		return true
	}
	return false
}

func (r Report) OK() bool {
	for _, t := range r.Tables {
		if !t.Present || len(t.MissingKeys) > 0 {
			return false
		}
	}
	return true
}

// Problems lists one line per missing table or key.
func (r Report) Problems() []string {
	var out []string
	for _, t := range r.Tables {
		if !t.Present {
			out = append(out, fmt.Sprintf("table %s is missing", t.Table))
			continue
		}
		for _, key := range t.MissingKeys {
			out = append(out, fmt.Sprintf("table %s has no unique index on (%s)", t.Table, strings.Join(key, ", ")))
		}
	}
	return out
}

// Check compares the store's catalog against reqs. Catalog read errors abort
// the check; absent tables and keys are reported, not returned as errors.
func Check(ctx context.Context, in Inspector, reqs []Requirement) (Report, error) {
	if err := in.Ping(ctx); err != nil {
		return Report{}, err
	}
	tables, err := in.ListTables(ctx)
	if err != nil {
		return Report{}, err
	}
	present := map[string]string{}
	for _, name := range tables {
		present[strings.ToLower(unqualified(name))] = name
	}
	report := Report{Tables: make([]TableReport, 0, len(reqs))}
	if presenceOnly(in) {
		report.PresenceOnly = true
		report.Note = presenceOnlyNote
	}
	for _, req := range reqs {
		tr := TableReport{Table: req.Table}
		actual, ok := present[strings.ToLower(req.Table)]
		if !ok {
			tr.MissingKeys = req.UniqueKeys
			report.Tables = append(report.Tables, tr)
			continue
		}
		tr.Present = true
		indexes, err := in.Indexes(ctx, actual)
		if err != nil {
			return Report{}, err
		}
		for _, key := range req.UniqueKeys {
			if !hasUniqueIndex(indexes, key) {
				tr.MissingKeys = append(tr.MissingKeys, key)
			}
		}
		rows, err := in.EstimateRows(ctx, actual)
		if err != nil {
			return Report{}, err
		}
		tr.Rows = rows
		report.Tables = append(report.Tables, tr)
	}
	return report, nil
}

// hasUniqueIndex matches on the column set; column order does not matter for
// conflict targets.
func hasUniqueIndex(indexes []IndexInfo, key []string) bool {
	want := columnSet(key)
	for _, idx := range indexes {
		if idx.Unique && columnSet(idx.Columns) == want {
			return true
		}
	}
	return false
}

func columnSet(cols []string) string {
	lowered := make([]string, len(cols))
	for i, c := range cols {
		lowered[i] = strings.ToLower(c)
	}
	sort.Strings(lowered)
	return strings.Join(lowered, ",")
}

func unqualified(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}
