package jira

import (
	"strings"

	"golang.org/x/text/cases"

	"opsync-backend/internal/storage"
)

// Rule maps any value containing one of Match (case-insensitively) to Result.
type Rule[T any] struct {
	Match  []string
	Result T
}

// Table is an ordered vocabulary mapping: the first matching rule wins and
// Default covers everything else, including empty input.
type Table[T any] struct {
	Rules   []Rule[T]
	Default T
}

func (t Table[T]) Map(value string) T {
	folded := fold(strings.TrimSpace(value))
	if folded == "" {
		return t.Default
	}
	for _, rule := range t.Rules {
		for _, m := range rule.Match {
			if strings.Contains(folded, fold(m)) {
				return rule.Result
			}
		}
	}
	return t.Default
}

func fold(s string) string {
	return cases.Fold().String(s)
}

var PriorityTable = Table[storage.Severity]{
	Rules: []Rule[storage.Severity]{
		{Match: []string{"critical", "highest"}, Result: storage.SeverityCritical},
		{Match: []string{"high"}, Result: storage.SeverityHigh},
		{Match: []string{"low"}, Result: storage.SeverityLow},
	},
	Default: storage.SeverityMedium,
}

var IncidentStatusTable = Table[storage.IncidentStatus]{
	Rules: []Rule[storage.IncidentStatus]{
		{Match: []string{"resolved"}, Result: storage.IncidentResolved},
		{Match: []string{"closed", "done"}, Result: storage.IncidentClosed},
		{Match: []string{"progress", "review"}, Result: storage.IncidentInProgress},
		{Match: []string{"open", "to do", "new"}, Result: storage.IncidentOpen},
	},
	Default: storage.IncidentOpen,
}

var TaskStatusTable = Table[storage.TaskStatus]{
	Rules: []Rule[storage.TaskStatus]{
		{Match: []string{"done", "closed", "resolved"}, Result: storage.TaskDone},
		{Match: []string{"blocked", "hold"}, Result: storage.TaskBlocked},
		{Match: []string{"progress", "review"}, Result: storage.TaskInProgress},
	},
	Default: storage.TaskTodo,
}
