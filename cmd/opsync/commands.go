package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"opsync-backend/internal/config"
	"opsync-backend/internal/dbinspect"
	"opsync-backend/internal/integration"
	"opsync-backend/internal/orchestrator"
	"opsync-backend/internal/storage"
	"opsync-backend/migrations"
)

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			store, err := storage.NewStore(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect to db: %w", err)
			}
			defer store.Close()
			applied, err := store.Migrate(cmd.Context(), migrations.Files)
			for _, file := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", file)
			}
			return err
		},
	}
}

type syncTarget struct {
	job         string
	integration string
}

var syncTargets = map[string]syncTarget{
	"jira":  {job: orchestrator.JobJiraSync, integration: integration.Jira},
	"costs": {job: orchestrator.JobCostSync, integration: integration.AWSCostExplorer},
}

func syncCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "sync <jira|costs|sla>",
		Short:     "Run one sync or the weekly SLA aggregation now",
		Long:      "Runs through the same path as the scheduler: the sync log and integration status are written.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"jira", "costs", "sla"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.ToLower(args[0])
			st, ok := syncTargets[target]
			if !ok && target != "sla" {
				return fmt.Errorf("unknown sync target %q", args[0])
			}
			a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := a.jobContext(cmd.Context())
			defer cancel()

			if target == "sla" {
				metric, err := a.orch.AggregateWeeklySLA(ctx)
				if err != nil {
					return err
				}
				if metric == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no uptime requested in the last 7 days")
					return nil
				}
				return printJSON(cmd.OutOrStdout(), metric)
			}
			src, ok := a.orch.Source(st.job)
			if !ok {
				return fmt.Errorf("%s sync is not configured; missing %s", target,
					strings.Join(a.cfg.MissingCredentials()[st.integration], ", "))
			}
			if err := a.repo.EnsureIntegrationStatus(ctx, src.Integration); err != nil {
				return err
			}
			entry, runErr := a.orch.RunSync(ctx, src)
			if err := printJSON(cmd.OutOrStdout(), entry); err != nil {
				return err
			}
			return runErr
		},
	}
}

func forecastCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forecast [environment...]",
		Short: "Generate cost forecasts and scan for anomalies",
		Long:  "Without arguments every environment with cost history in the last 30 days is forecast.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			ctx, cancel := a.jobContext(cmd.Context())
			defer cancel()
			return a.orch.RunForecasts(ctx, args...)
		},
	}
}

func creditsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Record and inspect the ICS credit balance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "record <balance-usd>",
		Short: "Record a credit balance snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			balance, err := strconv.ParseFloat(args[0], 64)
			if err != nil || balance < 0 {
				return fmt.Errorf("balance must be a non-negative number, got %q", args[0])
			}
			a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.repo.RecordCreditBalance(cmd.Context(), storage.CreditBalance{
				RecordedAt: time.Now().UTC(),
				BalanceUSD: balance,
			}); err != nil {
				return err
			}
			rate, err := a.engine.CalculateICSBurnRate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rate)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "burn-rate",
		Short: "Print the current balance, daily burn and runway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			rate, err := a.engine.CalculateICSBurnRate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rate)
		},
	})
	return cmd
}

func storecheckCmd(opts *rootOptions) *cobra.Command {
	var dsn string
	var exact bool
	cmd := &cobra.Command{
		Use:   "storecheck",
		Short: "Verify the tables and unique keys the upserts depend on",
		Long: `Inspects the store catalog and reports missing tables or natural-key
unique indexes. Defaults to DATABASE_URL.

The engine itself only runs on postgres. mysql:// and sqlserver:// DSNs are
accepted for checking a foreign copy of the schema, but the report then only
covers table and key presence: the cost_records upserts depend on postgres
partial unique indexes, which those engines cannot express.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				dsn = cfg.DatabaseURL
			}
			in, err := dbinspect.Open(dsn)
			if err != nil {
				return err
			}
			defer in.Close()
			report, err := dbinspect.Check(cmd.Context(), in, dbinspect.Required)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if exact {
				store, err := storage.NewStore(cmd.Context(), dsn)
				if err != nil {
					return fmt.Errorf("connect to db: %w", err)
				}
				defer store.Close()
				counts, err := storage.NewRepository(store).TableCounts(cmd.Context())
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), counts); err != nil {
					return err
				}
			}
			if !report.OK() {
				return fmt.Errorf("store is not ready:\n  %s", strings.Join(report.Problems(), "\n  "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "database DSN to inspect (defaults to DATABASE_URL)")
	cmd.Flags().BoolVar(&exact, "exact", false, "also print exact row counts (postgres only)")
	return cmd
}

func sealCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seal <value>",
		Short: "Encrypt a secret with ENCRYPTION_KEY for use as an enc: config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			box, err := config.NewSecretBox([]byte(cfg.EncryptionKey))
			if err != nil {
				return err
			}
			sealed, err := box.Seal(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}
