package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"opsync-backend/internal/integration"
)

// UpsertCostRecord merges a day of spend. Aggregate rows (nil ResourceID)
// and per-resource rows conflict on different partial unique indexes. Only
// cost_usd is overwritten on conflict.
func (r *Repository) UpsertCostRecord(ctx context.Context, rec CostRecord) error {
	query := `
		INSERT INTO cost_records (date, environment, service, resource_id, cost_usd, usage_quantity, usage_unit, credits_applied)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (date, environment, service) WHERE resource_id IS NULL
		DO UPDATE SET cost_usd=EXCLUDED.cost_usd, updated_at=now()`
	if rec.ResourceID != nil {
		query = `
		INSERT INTO cost_records (date, environment, service, resource_id, cost_usd, usage_quantity, usage_unit, credits_applied)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (date, environment, service, resource_id) WHERE resource_id IS NOT NULL
		DO UPDATE SET cost_usd=EXCLUDED.cost_usd, updated_at=now()`
	}
	_, err := r.Store.Pool.Exec(ctx, query,
		rec.Date, rec.Environment, rec.Service, rec.ResourceID, rec.CostUSD,
		rec.UsageQuantity, rec.UsageUnit, rec.CreditsApplied,
	)
	return integration.Store("upsert cost record", err)
}

// SumCostByEnvironment totals aggregate rows with date in [from, to).
func (r *Repository) SumCostByEnvironment(ctx context.Context, from, to time.Time) (map[string]float64, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT environment, SUM(cost_usd)::float8
		FROM cost_records
		WHERE date >= $1 AND date < $2 AND resource_id IS NULL
		GROUP BY environment`, from, to)
	if err != nil {
		return nil, integration.Store("sum cost by environment", err)
	}
	defer rows.Close()
	totals := map[string]float64{}
	for rows.Next() {
		var env string
		var total float64
		if err := rows.Scan(&env, &total); err != nil {
			return nil, integration.Store("scan cost total", err)
		}
		totals[env] = total
	}
	if err := rows.Err(); err != nil {
		return nil, integration.Store("sum cost by environment", err)
	}
	return totals, nil
}

// DailyCostTotals returns one total per day with data in [from, to),
// oldest first.
func (r *Repository) DailyCostTotals(ctx context.Context, environment string, from, to time.Time) ([]DailyTotal, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT date, SUM(cost_usd)::float8
		FROM cost_records
		WHERE environment=$1 AND date >= $2 AND date < $3 AND resource_id IS NULL
		GROUP BY date ORDER BY date`, environment, from, to)
	if err != nil {
		return nil, integration.Store("daily cost totals", err)
	}
	defer rows.Close()
	results := []DailyTotal{}
	for rows.Next() {
		var rec DailyTotal
		if err := rows.Scan(&rec.Date, &rec.Total); err != nil {
			return nil, integration.Store("scan daily total", err)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, integration.Store("daily cost totals", err)
	}
	return results, nil
}

func (r *Repository) ListCostEnvironments(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT DISTINCT environment FROM cost_records WHERE date >= $1 ORDER BY environment`, since)
	if err != nil {
		return nil, integration.Store("list cost environments", err)
	}
	defer rows.Close()
	results := []string{}
	for rows.Next() {
		var env string
		if err := rows.Scan(&env); err != nil {
			return nil, integration.Store("scan environment", err)
		}
		results = append(results, env)
	}
	if err := rows.Err(); err != nil {
		return nil, integration.Store("list cost environments", err)
	}
	return results, nil
}

func (r *Repository) ListBudgets(ctx context.Context, month time.Time) ([]MonthlyBudget, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT month, environment, budget_usd::float8, actual_usd::float8, variance_usd::float8, variance_pct::float8
		FROM monthly_budgets WHERE month=$1 ORDER BY environment`, month)
	if err != nil {
		return nil, integration.Store("list budgets", err)
	}
	defer rows.Close()
	results := []MonthlyBudget{}
	for rows.Next() {
		var b MonthlyBudget
		if err := rows.Scan(&b.Month, &b.Environment, &b.BudgetUSD, &b.ActualUSD, &b.VarianceUSD, &b.VariancePct); err != nil {
			return nil, integration.Store("scan budget", err)
		}
		results = append(results, b)
	}
	if err := rows.Err(); err != nil {
		return nil, integration.Store("list budgets", err)
	}
	return results, nil
}

// UpdateBudgetActuals writes actual and variance onto an existing budget row.
func (r *Repository) UpdateBudgetActuals(ctx context.Context, b MonthlyBudget) error {
	tag, err := r.Store.Pool.Exec(ctx, `
		UPDATE monthly_budgets SET actual_usd=$1, variance_usd=$2, variance_pct=$3, updated_at=now()
		WHERE month=$4 AND environment=$5`,
		b.ActualUSD, b.VarianceUSD, ClampPercent(b.VariancePct), b.Month, b.Environment,
	)
	if err != nil {
		return integration.Store("update budget", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) UpsertCostForecast(ctx context.Context, f CostForecast) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO cost_forecasts (forecast_date, environment, scenario, predicted_cost, confidence_lower, confidence_upper, method)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (forecast_date, environment, scenario) DO UPDATE
		SET predicted_cost=EXCLUDED.predicted_cost, confidence_lower=EXCLUDED.confidence_lower,
			confidence_upper=EXCLUDED.confidence_upper, method=EXCLUDED.method, generated_at=now()`,
		f.ForecastDate, f.Environment, string(f.Scenario), f.PredictedCost, f.ConfidenceLower, f.ConfidenceUpper, f.Method,
	)
	return integration.Store("upsert cost forecast", err)
}

func (r *Repository) RecordCreditBalance(ctx context.Context, b CreditBalance) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO ics_credit_balances (recorded_at, balance_usd) VALUES ($1,$2)`, b.RecordedAt, b.BalanceUSD)
	return integration.Store("record credit balance", err)
}

func (r *Repository) LatestCreditBalance(ctx context.Context) (CreditBalance, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT recorded_at, balance_usd::float8 FROM ics_credit_balances ORDER BY recorded_at DESC LIMIT 1`)
	var b CreditBalance
	if err := row.Scan(&b.RecordedAt, &b.BalanceUSD); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CreditBalance{}, ErrNotFound
		}
		return CreditBalance{}, integration.Store("latest credit balance", err)
	}
	return b, nil
}

// AverageCreditsApplied averages credits_applied over rows dated on or after
// since, counting only rows where credits were actually applied.
func (r *Repository) AverageCreditsApplied(ctx context.Context, since time.Time) (float64, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(credits_applied), 0)::float8 FROM cost_records
		WHERE date >= $1 AND credits_applied > 0`, since)
	var avg float64
	if err := row.Scan(&avg); err != nil {
		return 0, integration.Store("average credits applied", err)
	}
	return avg, nil
}
