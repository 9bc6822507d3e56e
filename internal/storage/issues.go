package storage

import (
	"context"
	"time"

	"opsync-backend/internal/integration"
)

// UpsertIncident merges by external_id. Only title, severity, status,
// assignee and resolution time change on conflict; runbook_id is never
// touched.
func (r *Repository) UpsertIncident(ctx context.Context, inc Incident) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO incidents (external_id, title, description, severity, status, assignee, reporter, environment, detected_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (external_id) DO UPDATE
		SET title=EXCLUDED.title, severity=EXCLUDED.severity, status=EXCLUDED.status,
			assignee=EXCLUDED.assignee, resolved_at=EXCLUDED.resolved_at, updated_at=now()`,
		inc.ExternalID, inc.Title, inc.Description, string(inc.Severity), string(inc.Status),
		inc.Assignee, inc.Reporter, inc.Environment, inc.DetectedAt, inc.ResolvedAt,
	)
	return integration.Store("upsert incident", err)
}

func (r *Repository) UpsertTask(ctx context.Context, task Task) error {
	labels := task.Labels
	if labels == nil {
		labels = []string{}
	}
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO tasks (external_id, title, description, status, priority, assignee, due_date, labels, external_created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (external_id) DO UPDATE
		SET title=EXCLUDED.title, description=EXCLUDED.description, status=EXCLUDED.status,
			priority=EXCLUDED.priority, assignee=EXCLUDED.assignee, due_date=EXCLUDED.due_date,
			labels=EXCLUDED.labels, updated_at=now()`,
		task.ExternalID, task.Title, task.Description, string(task.Status), string(task.Priority),
		task.Assignee, task.DueDate, labels, task.CreatedAt,
	)
	return integration.Store("upsert task", err)
}

// UpsertUptimeRequest merges by external_id. sla_met is whatever the caller
// computed at ingestion.
func (r *Repository) UpsertUptimeRequest(ctx context.Context, req UptimeRequest) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO uptime_requests (external_id, title, environment, requester, status, window_start, window_end, requested_hours, delivered_hours, sla_met)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (external_id) DO UPDATE
		SET title=EXCLUDED.title, status=EXCLUDED.status, window_start=EXCLUDED.window_start,
			window_end=EXCLUDED.window_end, requested_hours=EXCLUDED.requested_hours,
			delivered_hours=EXCLUDED.delivered_hours, sla_met=EXCLUDED.sla_met, updated_at=now()`,
		req.ExternalID, req.Title, req.Environment, req.Requester, req.Status,
		req.WindowStart, req.WindowEnd, req.RequestedHours, req.DeliveredHours, req.SLAMet,
	)
	return integration.Store("upsert uptime request", err)
}

// UptimeTotals sums hours for uptime windows starting in [from, to).
func (r *Repository) UptimeTotals(ctx context.Context, from, to time.Time) (UptimeTotals, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(requested_hours), 0)::float8, COALESCE(SUM(delivered_hours), 0)::float8, count(*)
		FROM uptime_requests WHERE window_start >= $1 AND window_start < $2`, from, to)
	var totals UptimeTotals
	if err := row.Scan(&totals.RequestedHours, &totals.DeliveredHours, &totals.Requests); err != nil {
		return UptimeTotals{}, integration.Store("sum uptime hours", err)
	}
	return totals, nil
}

func (r *Repository) UpsertSLAMetric(ctx context.Context, m SLAMetric) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO sla_metrics (week_start, week_end, requested_hours, delivered_hours, sla_percentage)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (week_start, week_end) DO UPDATE
		SET requested_hours=EXCLUDED.requested_hours, delivered_hours=EXCLUDED.delivered_hours,
			sla_percentage=EXCLUDED.sla_percentage, calculated_at=now()`,
		m.WeekStart, m.WeekEnd, m.RequestedHours, m.DeliveredHours, ClampPercent(m.SLAPercentage),
	)
	return integration.Store("upsert sla metric", err)
}
