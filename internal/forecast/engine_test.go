package forecast

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"opsync-backend/internal/storage"
)

type forecastKey struct {
	date        string
	environment string
	scenario    storage.Scenario
}

type fakeStore struct {
	history   []storage.DailyTotal
	forecasts map[forecastKey]storage.CostForecast
	upserts   int
	balance   *storage.CreditBalance
	credits   float64
	from, to  time.Time
}

func newFakeStore(values ...float64) *fakeStore {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	history := make([]storage.DailyTotal, len(values))
	for i, v := range values {
		history[i] = storage.DailyTotal{Date: start.AddDate(0, 0, i), Total: v}
	}
	return &fakeStore{history: history, forecasts: map[forecastKey]storage.CostForecast{}}
}

func (f *fakeStore) DailyCostTotals(ctx context.Context, environment string, from, to time.Time) ([]storage.DailyTotal, error) {
	f.from, f.to = from, to
	return f.history, nil
}

func (f *fakeStore) UpsertCostForecast(ctx context.Context, fc storage.CostForecast) error {
	f.upserts++
	f.forecasts[forecastKey{fc.ForecastDate.Format("2006-01-02"), fc.Environment, fc.Scenario}] = fc
	return nil
}

func (f *fakeStore) LatestCreditBalance(ctx context.Context) (storage.CreditBalance, error) {
	if f.balance == nil {
		return storage.CreditBalance{}, storage.ErrNotFound
	}
	return *f.balance, nil
}

func (f *fakeStore) AverageCreditsApplied(ctx context.Context, since time.Time) (float64, error) {
	return f.credits, nil
}

var fixedNow = time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)

func newTestEngine(store Store) *Engine {
	e := NewEngine(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	e.Now = func() time.Time { return fixedNow }
	return e
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestBaselineFromLastSevenDays(t *testing.T) {
	history := append([]float64{40, 25, 70}, repeat(10, 7)...)
	forecasts, stats, err := Project(history, "prod", fixedNow, 1)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if stats.Baseline != 10.0 {
		t.Fatalf("expected baseline 10 got %v", stats.Baseline)
	}
	if want := StdDev(history, true); stats.StdDev != want || stats.StdDev == 0 {
		t.Fatalf("expected population std dev over full window, got %v", stats.StdDev)
	}
	if len(forecasts) != 3 {
		t.Fatalf("expected 3 scenarios got %d", len(forecasts))
	}
}

func TestFlatHistoryCollapsesScenarios(t *testing.T) {
	forecasts, stats, err := Project(repeat(10, 10), "prod", fixedNow, 2)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if stats.Baseline != 10.0 || stats.StdDev != 0 {
		t.Fatalf("expected baseline 10 and zero sigma, got %v/%v", stats.Baseline, stats.StdDev)
	}
	for _, f := range forecasts {
		if f.PredictedCost != 10.0 {
			t.Fatalf("%s: expected 10 got %v", f.Scenario, f.PredictedCost)
		}
	}
	if forecasts[0].ForecastDate.Format("2006-01-02") != "2024-03-15" || forecasts[3].ForecastDate.Format("2006-01-02") != "2024-03-16" {
		t.Fatalf("unexpected forecast dates %v %v", forecasts[0].ForecastDate, forecasts[3].ForecastDate)
	}
}

func TestScenarioDerivation(t *testing.T) {
	history := []float64{100, 120, 80, 100, 140, 60, 100}
	forecasts, stats, err := Project(history, "prod", fixedNow, 1)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	byScenario := map[storage.Scenario]storage.CostForecast{}
	for _, f := range forecasts {
		byScenario[f.Scenario] = f
	}
	sigma := stats.StdDev
	base := byScenario[storage.ScenarioBaseline]
	high := byScenario[storage.ScenarioHighLoad]
	low := byScenario[storage.ScenarioLowLoad]
	if math.Abs(high.PredictedCost-(100+1.5*sigma)) > 1e-9 {
		t.Fatalf("unexpected high load %v", high.PredictedCost)
	}
	if math.Abs(low.PredictedCost-math.Max(100-1.5*sigma, 0)) > 1e-9 {
		t.Fatalf("unexpected low load %v", low.PredictedCost)
	}
	if math.Abs(base.ConfidenceUpper-(100+1.96*sigma)) > 1e-9 {
		t.Fatalf("unexpected baseline band %v", base.ConfidenceUpper)
	}
	if math.Abs(high.ConfidenceUpper-high.PredictedCost*1.1) > 1e-9 || math.Abs(high.ConfidenceLower-high.PredictedCost*0.9) > 1e-9 {
		t.Fatalf("unexpected high band %v-%v", high.ConfidenceLower, high.ConfidenceUpper)
	}
	for _, f := range forecasts {
		if f.ConfidenceLower > f.PredictedCost || f.PredictedCost > f.ConfidenceUpper {
			t.Fatalf("%s band does not bracket prediction", f.Scenario)
		}
	}
}

func TestLowLoadNeverNegative(t *testing.T) {
	history := []float64{0, 0, 0, 0, 0, 0, 500}
	forecasts, _, err := Project(history, "dev", fixedNow, 1)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	for _, f := range forecasts {
		if f.PredictedCost < 0 || f.ConfidenceLower < 0 {
			t.Fatalf("%s went negative: %+v", f.Scenario, f)
		}
	}
}

func TestGenerateForecastsIsIdempotent(t *testing.T) {
	store := newFakeStore(repeat(50, 14)...)
	engine := newTestEngine(store)
	for i := 0; i < 2; i++ {
		result, err := engine.GenerateForecasts(context.Background(), "prod", 30)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if result.Written != 90 {
			t.Fatalf("expected 90 rows written got %d", result.Written)
		}
	}
	if len(store.forecasts) != 90 {
		t.Fatalf("expected one row per (date, env, scenario), got %d", len(store.forecasts))
	}
	if store.upserts != 180 {
		t.Fatalf("expected both runs to upsert, got %d", store.upserts)
	}
	if store.from.Format("2006-01-02") != "2024-02-14" || store.to.Format("2006-01-02") != "2024-03-15" {
		t.Fatalf("unexpected history window %v-%v", store.from, store.to)
	}
}

func TestGenerateForecastsSkipsShortHistory(t *testing.T) {
	store := newFakeStore(10, 10, 10, 10, 10)
	result, err := newTestEngine(store).GenerateForecasts(context.Background(), "prod", 30)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !result.Skipped || result.HistoryDays != 5 {
		t.Fatalf("expected skipped result, got %+v", result)
	}
	if store.upserts != 0 {
		t.Fatalf("expected no writes, got %d", store.upserts)
	}
}

func TestGenerateForecastsRejectsNonPositiveDays(t *testing.T) {
	store := newFakeStore(repeat(50, 10)...)
	engine := newTestEngine(store)
	for _, days := range []int{0, -1} {
		if _, err := engine.GenerateForecasts(context.Background(), "prod", days); err == nil {
			t.Fatalf("expected error for days=%d", days)
		}
	}
	if store.upserts != 0 {
		t.Fatalf("expected no writes, got %d", store.upserts)
	}
	if _, _, err := Project(repeat(50, 10), "prod", fixedNow, -1); err == nil {
		t.Fatal("expected Project to reject negative days")
	}
}

func TestDetectAnomalies(t *testing.T) {
	values := repeat(100, 30)
	values[17] = 500
	store := newFakeStore(values...)
	anomalies, err := newTestEngine(store).DetectAnomalies(context.Background(), "prod", 30)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(anomalies) != 1 || anomalies[0].Total != 500 {
		t.Fatalf("expected only the 500 day, got %+v", anomalies)
	}
	if math.Abs(anomalies[0].Mean-113.333333) > 1e-3 {
		t.Fatalf("unexpected mean %v", anomalies[0].Mean)
	}
	if anomalies[0].Threshold >= 500 || anomalies[0].Threshold <= 100 {
		t.Fatalf("unexpected threshold %v", anomalies[0].Threshold)
	}
}

func TestDetectAnomaliesEmptyHistory(t *testing.T) {
	anomalies, err := newTestEngine(newFakeStore()).DetectAnomalies(context.Background(), "prod", 30)
	if err != nil || len(anomalies) != 0 {
		t.Fatalf("expected no anomalies, got %v (%v)", anomalies, err)
	}
}

func TestCalculateICSBurnRate(t *testing.T) {
	store := newFakeStore()
	store.credits = 25
	rate, err := newTestEngine(store).CalculateICSBurnRate(context.Background())
	if err != nil {
		t.Fatalf("burn rate: %v", err)
	}
	if rate.Balance != 0 || rate.DailyBurn != 25 || rate.RunwayDays != 0 {
		t.Fatalf("unexpected rate without balance %+v", rate)
	}

	store.balance = &storage.CreditBalance{RecordedAt: fixedNow, BalanceUSD: 1000}
	rate, err = newTestEngine(store).CalculateICSBurnRate(context.Background())
	if err != nil {
		t.Fatalf("burn rate: %v", err)
	}
	if rate.Balance != 1000 || rate.RunwayDays != 40 {
		t.Fatalf("unexpected rate %+v", rate)
	}
	if store.upserts != 0 {
		t.Fatalf("burn rate must not write")
	}
}

type failingStore struct{ fakeStore }

func (f *failingStore) LatestCreditBalance(ctx context.Context) (storage.CreditBalance, error) {
	return storage.CreditBalance{}, errors.New("connection reset")
}

func TestCalculateICSBurnRatePropagatesStoreErrors(t *testing.T) {
	if _, err := newTestEngine(&failingStore{}).CalculateICSBurnRate(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
