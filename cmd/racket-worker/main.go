package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"racket/internal/audit"
	"racket/internal/config"
	"racket/internal/db"
	"racket/internal/events"
	"racket/internal/jobs"
	"racket/internal/market"
	"racket/internal/store/pgstore"
	"racket/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	shutdownTracing, err := telemetry.Setup(ctx, "racket-worker", cfg.OTelEndpoint)
	if err != nil {
		logger.Error("telemetry setup failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		logger.Error("db migrate failed", "err", err)
		os.Exit(1)
	}

	auditLog, err := audit.OpenSQLite(cfg.AuditDBPath, cfg.AuditQueue, logger)
	if err != nil {
		logger.Error("audit open failed", "err", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	store := pgstore.New(pool, logger)
	catalog, err := events.LoadCatalog(cfg.EventCatalog)
	if err != nil {
		logger.Error("event catalog load failed", "path", cfg.EventCatalog, "err", err)
		os.Exit(1)
	}
	if err := events.SyncCatalog(ctx, store, catalog); err != nil {
		logger.Error("event catalog sync failed", "err", err)
		os.Exit(1)
	}

	scheduler := events.NewScheduler(store, logger, nil)
	mkt := market.NewService(store, logger, market.WithAudit(auditLog), market.WithListingTTL(cfg.ListingTTL))
	runner := jobs.NewRunner(store, logger,
		jobs.WithModifiers(scheduler),
		jobs.WithSweeper(mkt),
		jobs.WithAudit(auditLog),
		jobs.WithWorkers(cfg.Workers),
		jobs.WithEnergyIncrement(cfg.EnergyIncrement),
	)

	w := &worker{log: logger, scheduler: scheduler, runner: runner}

	if cfg.RunOnce {
		w.eventTick(ctx)
		w.energy(ctx)
		w.hourly(ctx)
		w.daily(ctx)
		logger.Info("worker run-once completed")
		return
	}

	eventTicker := time.NewTicker(cfg.EventTickEvery)
	defer eventTicker.Stop()
	energyTicker := time.NewTicker(cfg.EnergyEvery)
	defer energyTicker.Stop()
	hourlyTicker := time.NewTicker(cfg.HourlyEvery)
	defer hourlyTicker.Stop()
	dailyTicker := time.NewTicker(cfg.DailyEvery)
	defer dailyTicker.Stop()

	// Bring event state current before the first minute boundary.
	w.eventTick(ctx)

	logger.Info("worker started",
		"event_tick_every", cfg.EventTickEvery.String(),
		"energy_every", cfg.EnergyEvery.String(),
		"hourly_every", cfg.HourlyEvery.String(),
		"daily_every", cfg.DailyEvery.String(),
	)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-eventTicker.C:
			w.eventTick(ctx)
		case <-energyTicker.C:
			w.energy(ctx)
		case <-hourlyTicker.C:
			w.hourly(ctx)
		case <-dailyTicker.C:
			w.daily(ctx)
		}
	}
}

type worker struct {
	log       *slog.Logger
	scheduler *events.Scheduler
	runner    *jobs.Runner
}

func (w *worker) eventTick(ctx context.Context) {
	sum, err := w.scheduler.Tick(ctx)
	if err != nil {
		w.log.Error("event tick failed", "err", err)
		return
	}
	if sum.Started+sum.Ended+sum.Initialised+sum.Failed > 0 {
		w.log.Info("event tick complete", "started", sum.Started, "ended", sum.Ended, "initialised", sum.Initialised, "failed", sum.Failed)
	}
}

func (w *worker) energy(ctx context.Context) {
	sum, err := w.runner.EnergyRegen(ctx, time.Now().UTC())
	if err != nil {
		w.log.Error("energy regen failed", "err", err)
		return
	}
	w.log.Info("energy regen complete", "updated", sum.Updated, "failed", sum.Failed)
}

func (w *worker) hourly(ctx context.Context) {
	out, err := w.runner.Hourly(ctx, time.Now().UTC())
	w.logBundle("hourly", out, err)
}

func (w *worker) daily(ctx context.Context) {
	out, err := w.runner.Daily(ctx, time.Now().UTC())
	w.logBundle("daily", out, err)
}

func (w *worker) logBundle(kind string, out []jobs.JobSummary, err error) {
	if err != nil {
		w.log.Error("job bundle failed", "bundle", kind, "err", err)
		return
	}
	failed := 0
	for _, s := range out {
		if s.Error != "" {
			failed++
		}
	}
	w.log.Info("job bundle complete", "bundle", kind, "jobs", len(out), "failed_jobs", failed)
}
