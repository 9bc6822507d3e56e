package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"opsync-backend/internal/integration"
	"opsync-backend/internal/scheduler"
)

type JiraSyncer interface {
	SyncAll(ctx context.Context) (int, error)
	TestConnection(ctx context.Context) bool
}

type CostSyncer interface {
	SyncRecent(ctx context.Context) (int, error)
	CalculateMonthlyBudgets(ctx context.Context, month time.Time) (int, error)
	TestConnection(ctx context.Context) bool
}

func JiraSource(svc JiraSyncer) Source {
	return Source{
		Job:         JobJiraSync,
		Integration: integration.Jira,
		SyncType:    "issues",
		Run:         svc.SyncAll,
		Probe:       svc.TestConnection,
	}
}

// costWindowDays matches the trailing window costs.Service.SyncRecent covers.
const costWindowDays = 7

// CostSource syncs the trailing cost window and then refreshes budget
// variance for every month that window touches.
func CostSource(svc CostSyncer, now func() time.Time) Source {
	return Source{
		Job:         JobCostSync,
		Integration: integration.AWSCostExplorer,
		SyncType:    "costs",
		Probe:       svc.TestConnection,
		Run: func(ctx context.Context) (int, error) {
			n, err := svc.SyncRecent(ctx)
			if err != nil {
				return n, err
			}
			for _, month := range budgetMonths(now().UTC(), costWindowDays) {
				if _, err := svc.CalculateMonthlyBudgets(ctx, month); err != nil {
					return n, fmt.Errorf("monthly budgets %s: %w", month.Format("2006-01"), err)
				}
			}
			return n, nil
		},
	}
}

// budgetMonths returns the first day of each distinct month in
// [now-days, now], oldest first.
func budgetMonths(now time.Time, days int) []time.Time {
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -days)
	month := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for !month.After(end) {
		out = append(out, month)
		month = month.AddDate(0, 1, 0)
	}
	return out
}

type Schedules struct {
	Sync     string
	Forecast string
	SLA      string
	WarmUp   time.Duration
}

// Register schedules every source on the shared sync expression plus the
// forecast and SLA jobs, and queues a one-shot warm-up sync per source.
func (o *Orchestrator) Register(reg *scheduler.Registry, s Schedules) error {
	for _, src := range o.Sources {
		src := src
		if err := reg.Schedule(src.Job, s.Sync, func(ctx context.Context) error {
			_, err := o.RunSync(ctx, src)
			return err
		}); err != nil {
			return err
		}
	}
	if o.Forecaster != nil {
		if err := reg.Schedule(JobForecast, s.Forecast, func(ctx context.Context) error {
			return o.RunForecasts(ctx)
		}); err != nil {
			return err
		}
	}
	if err := reg.Schedule(JobSLA, s.SLA, func(ctx context.Context) error {
		_, err := o.AggregateWeeklySLA(ctx)
		return err
	}); err != nil {
		return err
	}
	if s.WarmUp <= 0 {
		return nil
	}
	for _, src := range o.Sources {
		if err := reg.TriggerAfter(src.Job, s.WarmUp); err != nil {
			return err
		}
	}
	o.Logger.Info("warm-up sync queued", slog.Duration("delay", s.WarmUp), slog.Int("sources", len(o.Sources)))
	return nil
}
