package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"opsync-backend/internal/config"
	"opsync-backend/internal/costs"
	"opsync-backend/internal/forecast"
	"opsync-backend/internal/integration"
	"opsync-backend/internal/jira"
	"opsync-backend/internal/orchestrator"
	"opsync-backend/internal/storage"
)

// app is the wired engine shared by every subcommand that touches the store.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *storage.Store
	repo   *storage.Repository
	engine *forecast.Engine
	orch   *orchestrator.Orchestrator
}

func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func loadApp(ctx context.Context, opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(logOut, cfg.LogLevel)
	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	repo := storage.NewRepository(store)
	engine := forecast.NewEngine(repo, logger)

	missing := cfg.MissingCredentials()
	var sources []orchestrator.Source
	if cfg.JiraEnabled() {
		client := jira.NewClient(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken, cfg.CallTimeout)
		svc := jira.NewService(client, repo, cfg.Jira.ProjectKey, cfg.Jira.Fields, logger)
		sources = append(sources, orchestrator.JiraSource(svc))
	} else {
		logger.Warn("jira sync disabled", slog.Any("missing", missing[integration.Jira]))
	}
	if cfg.CostsEnabled() {
		client := costs.NewClient(costs.ClientConfig{
			Endpoint:       cfg.AWS.Endpoint,
			AccessKey:      cfg.AWS.AccessKeyID,
			SecretKey:      cfg.AWS.SecretAccessKey,
			Region:         cfg.AWS.Region,
			EnvironmentTag: cfg.AWS.EnvironmentTag,
			Timeout:        cfg.CallTimeout,
		})
		svc := costs.NewService(client, repo, logger)
		sources = append(sources, orchestrator.CostSource(svc, time.Now))
	} else {
		logger.Warn("cost sync disabled", slog.Any("missing", missing[integration.AWSCostExplorer]))
	}

	orch := orchestrator.New(repo, engine, logger, sources...)
	orch.ForecastDays = cfg.ForecastDays
	return &app{cfg: cfg, logger: logger, store: store, repo: repo, engine: engine, orch: orch}, nil
}

func (a *app) Close() {
	a.store.Close()
}

// jobContext bounds a one-shot run the same way the scheduler bounds a
// scheduled one.
func (a *app) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.cfg.JobTimeout)
}
