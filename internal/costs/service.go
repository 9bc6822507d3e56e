package costs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"opsync-backend/internal/integration"
	"opsync-backend/internal/storage"
)

const testLookbackDays = 7

type Fetcher interface {
	FetchCostAndUsage(ctx context.Context, start, end time.Time) ([]ResultByTime, error)
}

type Store interface {
	UpsertCostRecord(ctx context.Context, rec storage.CostRecord) error
	SumCostByEnvironment(ctx context.Context, from, to time.Time) (map[string]float64, error)
	ListBudgets(ctx context.Context, month time.Time) ([]storage.MonthlyBudget, error)
	UpdateBudgetActuals(ctx context.Context, b storage.MonthlyBudget) error
}

type Service struct {
	Fetcher Fetcher
	Store   Store
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewService(fetcher Fetcher, store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Fetcher: fetcher, Store: store, Logger: logger, Now: time.Now}
}

// SyncCosts pulls daily spend for [start, end) and upserts one aggregate
// record per (date, service, environment) group with positive cost.
func (s *Service) SyncCosts(ctx context.Context, start, end time.Time) (int, error) {
	results, err := s.Fetcher.FetchCostAndUsage(ctx, start, end)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, day := range results {
		date, err := time.Parse(dateLayout, day.TimePeriod.Start)
		if err != nil {
			s.Logger.Warn("cost result with unparseable date", slog.String("start", day.TimePeriod.Start))
			continue
		}
		for _, group := range day.Groups {
			rec, ok := recordFromGroup(date, group)
			if !ok {
				continue
			}
			if err := s.Store.UpsertCostRecord(ctx, rec); err != nil {
				return count, err
			}
			count++
		}
	}
	s.Logger.Info("cost sync finished",
		slog.String("start", start.Format(dateLayout)),
		slog.String("end", end.Format(dateLayout)),
		slog.Int("records", count),
	)
	return count, nil
}

// SyncRecent syncs the trailing 7 days ending today (exclusive).
func (s *Service) SyncRecent(ctx context.Context) (int, error) {
	end := truncateDay(s.now())
	return s.SyncCosts(ctx, end.AddDate(0, 0, -testLookbackDays), end)
}

// TestConnection runs a 7-day lookback query without persisting anything.
func (s *Service) TestConnection(ctx context.Context) bool {
	end := truncateDay(s.now())
	if _, err := s.Fetcher.FetchCostAndUsage(ctx, end.AddDate(0, 0, -testLookbackDays), end); err != nil {
		s.Logger.Warn("cost explorer connection test failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// CalculateMonthlyBudgets refreshes actual spend and variance on the budget
// rows already stored for month. Environments without a budget are skipped.
func (s *Service) CalculateMonthlyBudgets(ctx context.Context, month time.Time) (int, error) {
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	totals, err := s.Store.SumCostByEnvironment(ctx, from, to)
	if err != nil {
		return 0, err
	}
	budgets, err := s.Store.ListBudgets(ctx, from)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, b := range budgets {
		actual, ok := totals[b.Environment]
		if !ok {
			continue
		}
		b.ActualUSD = actual
		b.VarianceUSD, b.VariancePct = Variance(b.BudgetUSD, actual)
		if err := s.Store.UpdateBudgetActuals(ctx, b); err != nil {
			return updated, fmt.Errorf("budget %s: %w", b.Environment, err)
		}
		updated++
	}
	return updated, nil
}

// Variance returns actual-budget and that difference as a percentage of the
// budget; the percentage is 0 for a zero budget.
func Variance(budget, actual float64) (float64, float64) {
	diff := actual - budget
	if budget == 0 {
		return diff, 0
	}
	return diff, diff / budget * 100
}

func recordFromGroup(date time.Time, group Group) (storage.CostRecord, bool) {
	cost, err := parseAmount(group.Metrics[MetricUnblendedCost].Amount)
	if err != nil || cost <= 0 {
		return storage.CostRecord{}, false
	}
	service := storage.Unknown
	environment := storage.Unknown
	if len(group.Keys) > 0 && strings.TrimSpace(group.Keys[0]) != "" {
		service = group.Keys[0]
	}
	if len(group.Keys) > 1 {
		environment = tagValue(group.Keys[1])
	}
	usage := group.Metrics[MetricUsageQuantity]
	quantity, _ := parseAmount(usage.Amount)
	return storage.CostRecord{
		Date:          date,
		Environment:   environment,
		Service:       service,
		CostUSD:       cost,
		UsageQuantity: quantity,
		UsageUnit:     usage.Unit,
	}, true
}

// tagValue turns a grouped tag key such as "Environment$prod" into "prod".
func tagValue(key string) string {
	if i := strings.Index(key, "$"); i >= 0 {
		key = key[i+1:]
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return storage.Unknown
	}
	return key
}

func parseAmount(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &integration.DataShapeError{Kind: "cost", Field: "Amount"}
	}
	return v, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
