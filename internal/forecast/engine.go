package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"opsync-backend/internal/integration"
	"opsync-backend/internal/storage"
)

const (
	HistoryDays    = 30
	BaselineDays   = 7
	MinHistoryDays = 7

	ScenarioSigmas = 1.5
	ConfidenceZ    = 1.96
	ScenarioBand   = 0.10
	AnomalySigmas  = 2.0

	Method = "moving_average_7d"
)

type Store interface {
	DailyCostTotals(ctx context.Context, environment string, from, to time.Time) ([]storage.DailyTotal, error)
	UpsertCostForecast(ctx context.Context, f storage.CostForecast) error
	LatestCreditBalance(ctx context.Context) (storage.CreditBalance, error)
	AverageCreditsApplied(ctx context.Context, since time.Time) (float64, error)
}

type Engine struct {
	Store  Store
	Logger *slog.Logger
	Now    func() time.Time
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Store: store, Logger: logger, Now: time.Now}
}

// Result summarizes one GenerateForecasts call.
type Result struct {
	Environment string
	Skipped     bool
	HistoryDays int
	Baseline    float64
	StdDev      float64
	TrendPerDay float64
	Written     int
	Forecasts   []storage.CostForecast
}

type Anomaly struct {
	Date      time.Time `json:"date"`
	Total     float64   `json:"total"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"stdDev"`
	Threshold float64   `json:"threshold"`
}

type BurnRate struct {
	Balance    float64 `json:"balance"`
	DailyBurn  float64 `json:"dailyBurn"`
	RunwayDays float64 `json:"runwayDays"`
}

// GenerateForecasts projects daily cost for the next days days under the
// three scenarios and upserts them. With fewer than MinHistoryDays of history
// in the trailing window nothing is written and Result.Skipped is set.
func (e *Engine) GenerateForecasts(ctx context.Context, environment string, days int) (Result, error) {
	if days <= 0 {
		return Result{}, fmt.Errorf("forecast days must be positive, got %d", days)
	}
	today := e.today()
	history, err := e.Store.DailyCostTotals(ctx, environment, today.AddDate(0, 0, -HistoryDays), today)
	if err != nil {
		return Result{}, err
	}
	values := totals(history)
	forecasts, stats, err := Project(values, environment, today, days)
	if errors.Is(err, integration.ErrInsufficientHistory) {
		e.Logger.Info("forecast skipped",
			slog.String("environment", environment),
			slog.Int("history_days", len(values)),
			slog.String("reason", err.Error()),
		)
		return Result{Environment: environment, Skipped: true, HistoryDays: len(values)}, nil
	}
	if err != nil {
		return Result{}, err
	}
	result := Result{
		Environment: environment,
		HistoryDays: len(values),
		Baseline:    stats.Baseline,
		StdDev:      stats.StdDev,
		TrendPerDay: stats.TrendPerDay,
		Forecasts:   forecasts,
	}
	for _, f := range forecasts {
		if err := e.Store.UpsertCostForecast(ctx, f); err != nil {
			return result, err
		}
		result.Written++
	}
	e.Logger.Info("forecast generated",
		slog.String("environment", environment),
		slog.Float64("baseline", stats.Baseline),
		slog.Float64("std_dev", stats.StdDev),
		slog.Int("rows", result.Written),
	)
	return result, nil
}

type Stats struct {
	Baseline    float64
	StdDev      float64
	TrendPerDay float64
}

// Project is the pure part of GenerateForecasts: given daily totals oldest
// first, it returns days*3 forecasts starting at start.
func Project(history []float64, environment string, start time.Time, days int) ([]storage.CostForecast, Stats, error) {
	if days <= 0 {
		return nil, Stats{}, fmt.Errorf("forecast days must be positive, got %d", days)
	}
	if len(history) < MinHistoryDays {
		return nil, Stats{}, integration.ErrInsufficientHistory
	}
	window := lastN(history, HistoryDays)
	stats := Stats{
		Baseline: Mean(lastN(window, BaselineDays)),
		StdDev:   StdDev(window, true),
	}
	stats.TrendPerDay, _, _ = Trend(window)

	baseline := stats.Baseline
	spread := ScenarioSigmas * stats.StdDev
	high := baseline + spread
	low := math.Max(baseline-spread, 0)

	type scenario struct {
		name         storage.Scenario
		value        float64
		lower, upper float64
	}
	scenarios := []scenario{
		{storage.ScenarioBaseline, baseline, math.Max(baseline-ConfidenceZ*stats.StdDev, 0), baseline + ConfidenceZ*stats.StdDev},
		{storage.ScenarioHighLoad, high, high * (1 - ScenarioBand), high * (1 + ScenarioBand)},
		{storage.ScenarioLowLoad, low, low * (1 - ScenarioBand), low * (1 + ScenarioBand)},
	}

	start = dayOf(start)
	out := make([]storage.CostForecast, 0, days*len(scenarios))
	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d)
		for _, s := range scenarios {
			out = append(out, storage.CostForecast{
				ForecastDate:    date,
				Environment:     environment,
				Scenario:        s.name,
				PredictedCost:   s.value,
				ConfidenceLower: s.lower,
				ConfidenceUpper: s.upper,
				Method:          Method,
			})
		}
	}
	return out, stats, nil
}

// DetectAnomalies flags days in the trailing window whose total is strictly
// above mean + 2σ of that window.
func (e *Engine) DetectAnomalies(ctx context.Context, environment string, days int) ([]Anomaly, error) {
	if days <= 0 {
		days = HistoryDays
	}
	today := e.today()
	history, err := e.Store.DailyCostTotals(ctx, environment, today.AddDate(0, 0, -days), today)
	if err != nil {
		return nil, err
	}
	anomalies := FindAnomalies(history)
	for _, a := range anomalies {
		e.Logger.Warn("cost anomaly",
			slog.String("environment", environment),
			slog.String("date", a.Date.Format("2006-01-02")),
			slog.Float64("total", a.Total),
			slog.Float64("threshold", a.Threshold),
		)
	}
	return anomalies, nil
}

func FindAnomalies(history []storage.DailyTotal) []Anomaly {
	anomalies := []Anomaly{}
	if len(history) == 0 {
		return anomalies
	}
	values := totals(history)
	mean := Mean(values)
	sigma := StdDev(values, true)
	threshold := mean + AnomalySigmas*sigma
	for _, day := range history {
		if day.Total > threshold {
			anomalies = append(anomalies, Anomaly{
				Date:      day.Date,
				Total:     day.Total,
				Mean:      mean,
				StdDev:    sigma,
				Threshold: threshold,
			})
		}
	}
	return anomalies
}

// CalculateICSBurnRate reads the latest credit balance and the 30-day average
// of positive credits applied. It writes nothing.
func (e *Engine) CalculateICSBurnRate(ctx context.Context) (BurnRate, error) {
	var rate BurnRate
	balance, err := e.Store.LatestCreditBalance(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return BurnRate{}, err
	default:
		rate.Balance = balance.BalanceUSD
	}
	burn, err := e.Store.AverageCreditsApplied(ctx, e.today().AddDate(0, 0, -HistoryDays))
	if err != nil {
		return BurnRate{}, err
	}
	rate.DailyBurn = burn
	if burn > 0 {
		rate.RunwayDays = rate.Balance / burn
	}
	return rate, nil
}

func (e *Engine) today() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return dayOf(now())
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func totals(history []storage.DailyTotal) []float64 {
	values := make([]float64, len(history))
	for i, h := range history {
		values[i] = h.Total
	}
	return values
}
