package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"opsync-backend/internal/bus"
	"opsync-backend/internal/notify"
	"opsync-backend/internal/orchestrator"
	"opsync-backend/internal/scheduler"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled syncs, forecasts and SLA jobs with the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a, err := loadApp(ctx, opts, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger
	for _, src := range a.orch.Sources {
		if err := a.repo.EnsureIntegrationStatus(ctx, src.Integration); err != nil {
			return err
		}
	}

	var publisher *bus.Publisher
	if a.cfg.NATSURL != "" {
		p, err := bus.NewPublisher(a.cfg.NATSURL)
		if err != nil {
			logger.Error("failed to connect to nats, events disabled", slog.String("error", err.Error()))
		} else {
			publisher = p
			defer publisher.Close()
			a.orch.Publisher = publisher
		}
	}
	if a.cfg.SlackWebhookURL != "" {
		a.orch.Notifier = notify.NewSlackNotifier(a.cfg.SlackWebhookURL, a.cfg.SlackCooldown, logger)
	}

	reg := scheduler.NewRegistry(logger, a.cfg.Workers, a.cfg.JobTimeout)
	defer reg.Stop()
	if err := a.orch.Register(reg, orchestrator.Schedules{
		Sync:     a.cfg.Schedules.Sync,
		Forecast: a.cfg.Schedules.Forecast,
		SLA:      a.cfg.Schedules.SLA,
		WarmUp:   a.cfg.Schedules.WarmUp,
	}); err != nil {
		return err
	}

	if publisher != nil {
		sub, err := publisher.SubscribeTriggers(func(evt bus.RunRequested) {
			if err := reg.Trigger(evt.Job); err != nil {
				logger.Warn("remote run request rejected", slog.String("job", evt.Job), slog.String("error", err.Error()))
				return
			}
			logger.Info("remote run request queued", slog.String("job", evt.Job))
		})
		if err != nil {
			logger.Warn("run request subscription failed", slog.String("error", err.Error()))
		} else {
			defer func() { _ = sub.Unsubscribe() }()
		}
	}

	admin := &adminHandler{Jobs: reg, Store: a.repo, Sources: a.orch, Timeout: a.cfg.CallTimeout}
	srv := &http.Server{
		Addr:              ":" + a.cfg.AdminPort,
		Handler:           admin.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      a.cfg.CallTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("opsync admin listening", slog.String("port", a.cfg.AdminPort), slog.Int("sources", len(a.orch.Sources)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
