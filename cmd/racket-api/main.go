package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"racket/internal/api"
	"racket/internal/audit"
	"racket/internal/auth"
	"racket/internal/config"
	"racket/internal/db"
	"racket/internal/events"
	"racket/internal/leaderboard"
	"racket/internal/ledger"
	"racket/internal/market"
	"racket/internal/store/pgstore"
	"racket/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	shutdownTracing, err := telemetry.Setup(ctx, "racket-api", cfg.OTelEndpoint)
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

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	server := api.New(logger, api.Deps{
		Auth:        authClient,
		Login:       authClient,
		Ledger:      ledger.NewService(store, logger),
		Market:      market.NewService(store, logger, market.WithAudit(auditLog), market.WithListingTTL(cfg.ListingTTL)),
		Events:      events.NewScheduler(store, logger, nil),
		Leaderboard: leaderboard.NewService(store, logger, cfg.LeaderboardTTL, nil),
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", "err", err)
		}
	}()

	logger.Info("racket api listening", "addr", cfg.Addr, "events", len(catalog))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	// In-flight handlers may still be recording audit entries.
	<-drained
	logger.Info("racket api stopped")
}
