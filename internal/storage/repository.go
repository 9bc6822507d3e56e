package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"opsync-backend/internal/integration"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

// StartSyncLog inserts a sync_logs row in the started state.
func (r *Repository) StartSyncLog(ctx context.Context, integrationName, syncType string, startedAt time.Time) (SyncLogEntry, error) {
	entry := SyncLogEntry{
		ID:          uuid.NewString(),
		Integration: integrationName,
		SyncType:    syncType,
		Status:      SyncStarted,
		StartedAt:   startedAt,
	}
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO sync_logs (id, integration_name, sync_type, status, records_synced, started_at)
		VALUES ($1,$2,$3,$4,0,$5)`,
		entry.ID, entry.Integration, entry.SyncType, string(entry.Status), entry.StartedAt,
	)
	if err != nil {
		return SyncLogEntry{}, integration.Store("start sync log", err)
	}
	return entry, nil
}

// CompleteSyncLog moves a started entry to its terminal state. An entry can
// be completed once.
func (r *Repository) CompleteSyncLog(ctx context.Context, entry SyncLogEntry) error {
	tag, err := r.Store.Pool.Exec(ctx, `
		UPDATE sync_logs SET status=$1, records_synced=$2, error_message=$3, completed_at=$4
		WHERE id=$5 AND status='started'`,
		string(entry.Status), entry.RecordsSynced, entry.ErrorMessage, entry.CompletedAt, entry.ID,
	)
	if err != nil {
		return integration.Store("complete sync log", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListSyncLogs(ctx context.Context, limit int) ([]SyncLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, integration_name, sync_type, status, records_synced, error_message, started_at, completed_at
		FROM sync_logs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, integration.Store("list sync logs", err)
	}
	defer rows.Close()
	results := []SyncLogEntry{}
	for rows.Next() {
		var rec SyncLogEntry
		var status string
		if err := rows.Scan(&rec.ID, &rec.Integration, &rec.SyncType, &status, &rec.RecordsSynced, &rec.ErrorMessage, &rec.StartedAt, &rec.CompletedAt); err != nil {
			return nil, integration.Store("scan sync log", err)
		}
		rec.Status = SyncStatus(status)
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, integration.Store("list sync logs", err)
	}
	return results, nil
}

func (r *Repository) GetIntegrationStatus(ctx context.Context, name string) (IntegrationStatus, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT integration_name, status, last_sync_at, last_error, updated_at
		FROM integration_status WHERE integration_name=$1`, name)
	var rec IntegrationStatus
	if err := row.Scan(&rec.Integration, &rec.Status, &rec.LastSyncAt, &rec.LastError, &rec.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IntegrationStatus{}, ErrNotFound
		}
		return IntegrationStatus{}, integration.Store("get integration status", err)
	}
	return rec, nil
}

func (r *Repository) ListIntegrationStatuses(ctx context.Context) ([]IntegrationStatus, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT integration_name, status, last_sync_at, last_error, updated_at
		FROM integration_status ORDER BY integration_name`)
	if err != nil {
		return nil, integration.Store("list integration status", err)
	}
	defer rows.Close()
	results := []IntegrationStatus{}
	for rows.Next() {
		var rec IntegrationStatus
		if err := rows.Scan(&rec.Integration, &rec.Status, &rec.LastSyncAt, &rec.LastError, &rec.UpdatedAt); err != nil {
			return nil, integration.Store("scan integration status", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, integration.Store("list integration status", err)
	}
	return results, nil
}

// UpsertIntegrationStatus overwrites the single row for st.Integration.
func (r *Repository) UpsertIntegrationStatus(ctx context.Context, st IntegrationStatus) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO integration_status (integration_name, status, last_sync_at, last_error, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (integration_name) DO UPDATE
		SET status=EXCLUDED.status, last_sync_at=EXCLUDED.last_sync_at, last_error=EXCLUDED.last_error, updated_at=now()`,
		st.Integration, st.Status, st.LastSyncAt, st.LastError,
	)
	return integration.Store("upsert integration status", err)
}

// EnsureIntegrationStatus seeds an unknown row for an integration that has
// never synced. Existing rows are left alone.
func (r *Repository) EnsureIntegrationStatus(ctx context.Context, name string) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO integration_status (integration_name, status, updated_at)
		VALUES ($1,'unknown',now())
		ON CONFLICT (integration_name) DO NOTHING`, name)
	return integration.Store("ensure integration status", err)
}

var countedTables = []string{
	"sync_logs", "integration_status", "incidents", "tasks", "uptime_requests",
	"cost_records", "cost_forecasts", "monthly_budgets", "sla_metrics", "ics_credit_balances",
}

// TableCounts returns row counts for every table the engine writes.
func (r *Repository) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(countedTables))
	for _, table := range countedTables {
		res, err := r.Store.Execute(ctx, fmt.Sprintf("SELECT count(*) AS n FROM %s", table))
		if err != nil {
			return nil, integration.Store("count "+table, err)
		}
		if len(res.Rows) == 1 {
			if n, ok := res.Rows[0]["n"].(int64); ok {
				counts[table] = n
			}
		}
	}
	return counts, nil
}
