package bus

import "time"

const (
	SubjectSyncCompleted     = "opsync.sync.completed"
	SubjectStatusChanged     = "opsync.integration.status_changed"
	SubjectForecastGenerated = "opsync.forecast.generated"
	SubjectAnomalyDetected   = "opsync.anomaly.detected"
	SubjectRunRequested      = "opsync.job.run_requested"
)

type SyncCompleted struct {
	SyncID        string    `json:"sync_id"`
	Integration   string    `json:"integration"`
	SyncType      string    `json:"sync_type"`
	Status        string    `json:"status"`
	RecordsSynced int       `json:"records_synced"`
	Error         string    `json:"error,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

type StatusChanged struct {
	Integration string    `json:"integration"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Error       string    `json:"error,omitempty"`
	At          time.Time `json:"at"`
}

type ForecastGenerated struct {
	Environment string  `json:"environment"`
	Baseline    float64 `json:"baseline"`
	StdDev      float64 `json:"std_dev"`
	Rows        int     `json:"rows"`
	Skipped     bool    `json:"skipped"`
}

type AnomalyDetected struct {
	Environment string    `json:"environment"`
	Date        time.Time `json:"date"`
	Total       float64   `json:"total"`
	Threshold   float64   `json:"threshold"`
}

// RunRequested asks a running engine to trigger a job out of schedule.
type RunRequested struct {
	Job string `json:"job"`
}
