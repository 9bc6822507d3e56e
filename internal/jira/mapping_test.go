package jira

import (
	"testing"

	"opsync-backend/internal/storage"
)

func TestPriorityTable(t *testing.T) {
	cases := []struct {
		in   string
		want storage.Severity
	}{
		{"Highest", storage.SeverityCritical},
		{"Critical", storage.SeverityCritical},
		{"P1 - CRITICAL", storage.SeverityCritical},
		{"High", storage.SeverityHigh},
		{"Low", storage.SeverityLow},
		{"Lowest", storage.SeverityLow},
		{"Medium", storage.SeverityMedium},
		{"", storage.SeverityMedium},
		{"Trivial", storage.SeverityMedium},
	}
	for _, tc := range cases {
		if got := PriorityTable.Map(tc.in); got != tc.want {
			t.Fatalf("priority %q: expected %s got %s", tc.in, tc.want, got)
		}
	}
}

func TestIncidentStatusTable(t *testing.T) {
	cases := []struct {
		in   string
		want storage.IncidentStatus
	}{
		{"In Progress", storage.IncidentInProgress},
		{"In Review", storage.IncidentInProgress},
		{"Resolved", storage.IncidentResolved},
		{"Closed", storage.IncidentClosed},
		{"Done", storage.IncidentClosed},
		{"To Do", storage.IncidentOpen},
		{"Open", storage.IncidentOpen},
		{"Triage", storage.IncidentOpen},
		{"", storage.IncidentOpen},
	}
	for _, tc := range cases {
		if got := IncidentStatusTable.Map(tc.in); got != tc.want {
			t.Fatalf("incident status %q: expected %s got %s", tc.in, tc.want, got)
		}
	}
}

func TestTaskStatusTable(t *testing.T) {
	cases := []struct {
		in   string
		want storage.TaskStatus
	}{
		{"In Progress", storage.TaskInProgress},
		{"Done", storage.TaskDone},
		{"Closed", storage.TaskDone},
		{"Blocked", storage.TaskBlocked},
		{"On Hold", storage.TaskBlocked},
		{"Backlog", storage.TaskTodo},
		{"", storage.TaskTodo},
	}
	for _, tc := range cases {
		if got := TaskStatusTable.Map(tc.in); got != tc.want {
			t.Fatalf("task status %q: expected %s got %s", tc.in, tc.want, got)
		}
	}
}

func TestTableFirstRuleWins(t *testing.T) {
	table := Table[string]{
		Rules: []Rule[string]{
			{Match: []string{"a"}, Result: "first"},
			{Match: []string{"ab"}, Result: "second"},
		},
		Default: "none",
	}
	if got := table.Map("AB"); got != "first" {
		t.Fatalf("expected first rule to win, got %s", got)
	}
	if got := table.Map("zzz"); got != "none" {
		t.Fatalf("expected default, got %s", got)
	}
}

func TestTableFoldsUnicodeCase(t *testing.T) {
	table := Table[string]{Rules: []Rule[string]{{Match: []string{"κλειστός"}, Result: "hit"}}, Default: "miss"}
	if got := table.Map("ΚΛΕΙΣΤΌΣ"); got != "hit" {
		t.Fatalf("expected folded match, got %s", got)
	}
}
