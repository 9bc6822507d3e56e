package storage

import (
	"math"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

type IncidentStatus string

const (
	IncidentOpen       IncidentStatus = "open"
	IncidentInProgress IncidentStatus = "in_progress"
	IncidentResolved   IncidentStatus = "resolved"
	IncidentClosed     IncidentStatus = "closed"
)

type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
)

type SyncStatus string

const (
	SyncStarted SyncStatus = "started"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
)

type Scenario string

const (
	ScenarioBaseline Scenario = "baseline"
	ScenarioHighLoad Scenario = "high_load"
	ScenarioLowLoad  Scenario = "low_load"
)

// Unknown is stored for categorical fields the source did not provide.
const Unknown = "Unknown"

type SyncLogEntry struct {
	ID            string     `json:"id"`
	Integration   string     `json:"integration"`
	SyncType      string     `json:"syncType"`
	Status        SyncStatus `json:"status"`
	RecordsSynced int        `json:"recordsSynced"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

type IntegrationStatus struct {
	Integration string     `json:"integration"`
	Status      string     `json:"status"`
	LastSyncAt  *time.Time `json:"lastSyncAt,omitempty"`
	LastError   *string    `json:"lastError,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Incident struct {
	ExternalID  string
	Title       string
	Description string
	Severity    Severity
	Status      IncidentStatus
	Assignee    string
	Reporter    string
	Environment string
	DetectedAt  time.Time
	ResolvedAt  *time.Time
	// RunbookID is maintained internally and never written by a sync.
	RunbookID *string
}

type Task struct {
	ExternalID  string
	Title       string
	Description string
	Status      TaskStatus
	Priority    Severity
	Assignee    string
	DueDate     *time.Time
	Labels      []string
	CreatedAt   time.Time
}

type UptimeRequest struct {
	ExternalID     string
	Title          string
	Environment    string
	Requester      string
	Status         string
	WindowStart    time.Time
	WindowEnd      time.Time
	RequestedHours float64
	DeliveredHours float64
	SLAMet         bool
}

// CostRecord is one day of spend. A nil ResourceID is the aggregate row for
// (date, environment, service); aggregate and per-resource rows live in
// separate uniqueness spaces.
type CostRecord struct {
	Date           time.Time
	Environment    string
	Service        string
	ResourceID     *string
	CostUSD        float64
	UsageQuantity  float64
	UsageUnit      string
	CreditsApplied float64
}

type DailyTotal struct {
	Date  time.Time
	Total float64
}

type CostForecast struct {
	ForecastDate    time.Time
	Environment     string
	Scenario        Scenario
	PredictedCost   float64
	ConfidenceLower float64
	ConfidenceUpper float64
	Method          string
}

type MonthlyBudget struct {
	Month       time.Time
	Environment string
	BudgetUSD   float64
	ActualUSD   float64
	VarianceUSD float64
	VariancePct float64
}

type SLAMetric struct {
	WeekStart      time.Time
	WeekEnd        time.Time
	RequestedHours float64
	DeliveredHours float64
	SLAPercentage  float64
}

type UptimeTotals struct {
	RequestedHours float64
	DeliveredHours float64
	Requests       int
}

type CreditBalance struct {
	RecordedAt time.Time
	BalanceUSD float64
}

// MaxPercent bounds the percentage columns (numeric(12, 2)).
const MaxPercent = 1e9

// ClampPercent keeps v inside the range the percentage columns can store.
// NaN becomes 0.
func ClampPercent(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-MaxPercent, math.Min(MaxPercent, v))
}
