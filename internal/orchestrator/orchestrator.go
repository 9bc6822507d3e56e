package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"opsync-backend/internal/bus"
	"opsync-backend/internal/forecast"
	"opsync-backend/internal/integration"
	"opsync-backend/internal/storage"
)

const (
	JobJiraSync = "sync.jira"
	JobCostSync = "sync.costs"
	JobForecast = "forecast"
	JobSLA      = "sla"

	defaultForecastDays      = 30
	defaultCompletionTimeout = 10 * time.Second
)

type Store interface {
	StartSyncLog(ctx context.Context, integrationName, syncType string, startedAt time.Time) (storage.SyncLogEntry, error)
	CompleteSyncLog(ctx context.Context, entry storage.SyncLogEntry) error
	GetIntegrationStatus(ctx context.Context, name string) (storage.IntegrationStatus, error)
	UpsertIntegrationStatus(ctx context.Context, st storage.IntegrationStatus) error
	UptimeTotals(ctx context.Context, from, to time.Time) (storage.UptimeTotals, error)
	UpsertSLAMetric(ctx context.Context, m storage.SLAMetric) error
	ListCostEnvironments(ctx context.Context, since time.Time) ([]string, error)
}

type Forecaster interface {
	GenerateForecasts(ctx context.Context, environment string, days int) (forecast.Result, error)
	DetectAnomalies(ctx context.Context, environment string, days int) ([]forecast.Anomaly, error)
	CalculateICSBurnRate(ctx context.Context) (forecast.BurnRate, error)
}

type Publisher interface {
	Publish(subject string, payload any) error
}

type Notifier interface {
	StatusChanged(ctx context.Context, integrationName, from, to, errMsg string) error
	Anomaly(ctx context.Context, environment string, date time.Time, total, threshold float64) error
}

// Source is one external system's sync, run as a unit. Probe, when set, is a
// cheap authenticated call that never writes.
type Source struct {
	Job         string
	Integration string
	SyncType    string
	Run         func(ctx context.Context) (int, error)
	Probe       func(ctx context.Context) bool
}

type Orchestrator struct {
	Store      Store
	Sources    []Source
	Forecaster Forecaster
	Publisher  Publisher
	Notifier   Notifier
	Logger     *slog.Logger
	Now        func() time.Time

	ForecastDays      int
	CompletionTimeout time.Duration
}

func New(store Store, forecaster Forecaster, logger *slog.Logger, sources ...Source) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Store:             store,
		Sources:           sources,
		Forecaster:        forecaster,
		Logger:            logger,
		Now:               time.Now,
		ForecastDays:      defaultForecastDays,
		CompletionTimeout: defaultCompletionTimeout,
	}
}

// Source returns the registered source for job.
func (o *Orchestrator) Source(job string) (Source, bool) {
	for _, src := range o.Sources {
		if src.Job == job {
			return src, true
		}
	}
	return Source{}, false
}

// SourceFor returns the registered source for an integration name.
func (o *Orchestrator) SourceFor(integrationName string) (Source, bool) {
	for _, src := range o.Sources {
		if src.Integration == integrationName {
			return src, true
		}
	}
	return Source{}, false
}

// RunSync runs one source between a started and a completed sync log entry,
// then overwrites the integration's status. The returned error is the sync's
// own failure; it has already been recorded.
func (o *Orchestrator) RunSync(ctx context.Context, src Source) (storage.SyncLogEntry, error) {
	logger := o.Logger.With(slog.String("integration", src.Integration), slog.String("sync_type", src.SyncType))
	entry, err := o.Store.StartSyncLog(ctx, src.Integration, src.SyncType, o.now())
	if err != nil {
		logger.Error("start sync log failed", slog.String("error", err.Error()))
		return storage.SyncLogEntry{}, err
	}
	logger = logger.With(slog.String("sync_id", entry.ID))
	logger.Info("sync started")

	count, runErr := o.runSource(ctx, src)

	// The run's context may already be cancelled or expired; the bookkeeping
	// below must still land.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.completionTimeout())
	defer cancel()

	completed := o.now()
	entry.RecordsSynced = count
	entry.CompletedAt = &completed
	entry.Status = storage.SyncSuccess
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
		entry.Status = storage.SyncFailed
		entry.ErrorMessage = errMsg
		logger.Error("sync failed",
			slog.String("error", msg),
			slog.String("kind", integration.Kind(runErr)),
			slog.Int("records", count),
		)
	} else {
		logger.Info("sync succeeded", slog.Int("records", count), slog.Duration("duration", completed.Sub(entry.StartedAt)))
	}
	if err := o.Store.CompleteSyncLog(bookCtx, entry); err != nil {
		logger.Error("complete sync log failed", slog.String("error", err.Error()))
	}
	o.updateStatus(bookCtx, logger, src.Integration, runErr, errMsg, completed)
	o.publish(bus.SubjectSyncCompleted, bus.SyncCompleted{
		SyncID:        entry.ID,
		Integration:   src.Integration,
		SyncType:      src.SyncType,
		Status:        string(entry.Status),
		RecordsSynced: count,
		Error:         deref(errMsg),
		CompletedAt:   completed,
	})
	return entry, runErr
}

func (o *Orchestrator) runSource(ctx context.Context, src Source) (count int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sync panicked: %v", rec)
		}
	}()
	count, err = src.Run(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = integration.Connectivity(src.Integration, src.SyncType, err)
	}
	return count, err
}

func (o *Orchestrator) updateStatus(ctx context.Context, logger *slog.Logger, name string, runErr error, errMsg *string, at time.Time) {
	prev := integration.StatusUnknown
	current, err := o.Store.GetIntegrationStatus(ctx, name)
	switch {
	case err == nil:
		prev = integration.ParseStatus(current.Status)
	case !errors.Is(err, storage.ErrNotFound):
		logger.Warn("read integration status failed", slog.String("error", err.Error()))
	}
	next := integration.Transition(prev, runErr)
	if err := o.Store.UpsertIntegrationStatus(ctx, storage.IntegrationStatus{
		Integration: name,
		Status:      string(next),
		LastSyncAt:  &at,
		LastError:   errMsg,
	}); err != nil {
		logger.Error("update integration status failed", slog.String("error", err.Error()))
		return
	}
	if !integration.Changed(prev, next) {
		return
	}
	logger.Info("integration status changed", slog.String("from", string(prev)), slog.String("to", string(next)))
	o.publish(bus.SubjectStatusChanged, bus.StatusChanged{
		Integration: name,
		From:        string(prev),
		To:          string(next),
		Error:       deref(errMsg),
		At:          at,
	})
	if o.Notifier != nil {
		if err := o.Notifier.StatusChanged(ctx, name, string(prev), string(next), deref(errMsg)); err != nil {
			logger.Warn("status notification failed", slog.String("error", err.Error()))
		}
	}
}

// AggregateWeeklySLA writes the SLA metric for the 7 days before today. A
// week without requested hours writes nothing and returns nil.
func (o *Orchestrator) AggregateWeeklySLA(ctx context.Context) (*storage.SLAMetric, error) {
	weekEnd := day(o.now())
	weekStart := weekEnd.AddDate(0, 0, -7)
	totals, err := o.Store.UptimeTotals(ctx, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}
	if totals.RequestedHours <= 0 {
		o.Logger.Info("no uptime requested, skipping sla metric",
			slog.String("week_start", weekStart.Format("2006-01-02")),
			slog.Int("requests", totals.Requests),
		)
		return nil, nil
	}
	metric := storage.SLAMetric{
		WeekStart:      weekStart,
		WeekEnd:        weekEnd,
		RequestedHours: totals.RequestedHours,
		DeliveredHours: totals.DeliveredHours,
		SLAPercentage:  totals.DeliveredHours / totals.RequestedHours * 100,
	}
	if err := o.Store.UpsertSLAMetric(ctx, metric); err != nil {
		return nil, err
	}
	o.Logger.Info("sla metric written",
		slog.String("week_start", weekStart.Format("2006-01-02")),
		slog.Float64("sla_percentage", metric.SLAPercentage),
	)
	return &metric, nil
}

// RunForecasts forecasts and scans for anomalies every environment with cost
// history, or only the given ones. One environment failing does not stop the
// others.
func (o *Orchestrator) RunForecasts(ctx context.Context, environments ...string) error {
	if len(environments) == 0 {
		envs, err := o.Store.ListCostEnvironments(ctx, day(o.now()).AddDate(0, 0, -forecast.HistoryDays))
		if err != nil {
			return err
		}
		environments = envs
	}
	var errs []error
	for _, env := range environments {
		if err := o.forecastEnvironment(ctx, env); err != nil {
			o.Logger.Error("forecast failed", slog.String("environment", env), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", env, err))
		}
	}
	rate, err := o.Forecaster.CalculateICSBurnRate(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("ics burn rate: %w", err))
	} else {
		o.Logger.Info("ics burn rate",
			slog.Float64("balance", rate.Balance),
			slog.Float64("daily_burn", rate.DailyBurn),
			slog.Float64("runway_days", rate.RunwayDays),
		)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) forecastEnvironment(ctx context.Context, env string) error {
	days := o.ForecastDays
	if days <= 0 {
		days = defaultForecastDays
	}
	result, err := o.Forecaster.GenerateForecasts(ctx, env, days)
	if err != nil {
		return err
	}
	o.publish(bus.SubjectForecastGenerated, bus.ForecastGenerated{
		Environment: env,
		Baseline:    result.Baseline,
		StdDev:      result.StdDev,
		Rows:        result.Written,
		Skipped:     result.Skipped,
	})
	anomalies, err := o.Forecaster.DetectAnomalies(ctx, env, forecast.HistoryDays)
	if err != nil {
		return err
	}
	for _, a := range anomalies {
		o.publish(bus.SubjectAnomalyDetected, bus.AnomalyDetected{
			Environment: env,
			Date:        a.Date,
			Total:       a.Total,
			Threshold:   a.Threshold,
		})
		if o.Notifier != nil {
			if err := o.Notifier.Anomaly(ctx, env, a.Date, a.Total, a.Threshold); err != nil {
				o.Logger.Warn("anomaly notification failed", slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

func (o *Orchestrator) publish(subject string, payload any) {
	if o.Publisher == nil {
		return
	}
	if err := o.Publisher.Publish(subject, payload); err != nil {
		o.Logger.Warn("publish event failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) completionTimeout() time.Duration {
	if o.CompletionTimeout > 0 {
		return o.CompletionTimeout
	}
	return defaultCompletionTimeout
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
