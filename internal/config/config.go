package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type APIConfig struct {
	Addr            string        `env:"RACKET_API_ADDR" envDefault:":8080"`
	DatabaseURL     string        `env:"DATABASE_URL,notEmpty"`
	SupabaseURL     string        `env:"SUPABASE_URL,notEmpty"`
	SupabaseAnonKey string        `env:"SUPABASE_ANON_KEY,notEmpty"`
	EventCatalog    string        `env:"RACKET_EVENT_CATALOG" envDefault:"config/world_events.yaml"`
	AuditDBPath     string        `env:"RACKET_AUDIT_DB" envDefault:"data/audit.db"`
	AuditQueue      int           `env:"RACKET_AUDIT_QUEUE" envDefault:"1024"`
	OTelEndpoint    string        `env:"RACKET_OTEL_ENDPOINT"`
	ListingTTL      time.Duration `env:"RACKET_LISTING_TTL" envDefault:"168h"`
	LeaderboardTTL  time.Duration `env:"RACKET_LEADERBOARD_TTL" envDefault:"30s"`
}

type WorkerConfig struct {
	DatabaseURL     string        `env:"DATABASE_URL,notEmpty"`
	EventCatalog    string        `env:"RACKET_EVENT_CATALOG" envDefault:"config/world_events.yaml"`
	AuditDBPath     string        `env:"RACKET_AUDIT_DB" envDefault:"data/audit.db"`
	AuditQueue      int           `env:"RACKET_AUDIT_QUEUE" envDefault:"1024"`
	OTelEndpoint    string        `env:"RACKET_OTEL_ENDPOINT"`
	ListingTTL      time.Duration `env:"RACKET_LISTING_TTL" envDefault:"168h"`
	EventTickEvery  time.Duration `env:"RACKET_EVENT_TICK_EVERY" envDefault:"1m"`
	EnergyEvery     time.Duration `env:"RACKET_ENERGY_EVERY" envDefault:"10m"`
	HourlyEvery     time.Duration `env:"RACKET_HOURLY_EVERY" envDefault:"1h"`
	DailyEvery      time.Duration `env:"RACKET_DAILY_EVERY" envDefault:"24h"`
	EnergyIncrement int32         `env:"RACKET_ENERGY_INCREMENT" envDefault:"5"`
	Workers         int           `env:"RACKET_JOB_WORKERS" envDefault:"8"`
	RunOnce         bool          `env:"RACKET_WORKER_RUN_ONCE"`
}

type CLIConfig struct {
	APIBaseURL string `env:"RK_API_BASE_URL" envDefault:"http://localhost:8080"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.SupabaseURL = strings.TrimRight(strings.TrimSpace(cfg.SupabaseURL), "/")
	cfg.SupabaseAnonKey = strings.TrimSpace(cfg.SupabaseAnonKey)
	if cfg.SupabaseURL == "" || cfg.SupabaseAnonKey == "" {
		return cfg, fmt.Errorf("SUPABASE_URL and SUPABASE_ANON_KEY must not be blank")
	}
	if cfg.AuditQueue <= 0 {
		return cfg, fmt.Errorf("RACKET_AUDIT_QUEUE must be > 0")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	for name, d := range map[string]time.Duration{
		"RACKET_EVENT_TICK_EVERY": cfg.EventTickEvery,
		"RACKET_ENERGY_EVERY":     cfg.EnergyEvery,
		"RACKET_HOURLY_EVERY":     cfg.HourlyEvery,
		"RACKET_DAILY_EVERY":      cfg.DailyEvery,
	} {
		if d <= 0 {
			return cfg, fmt.Errorf("%s must be > 0", name)
		}
	}
	if cfg.AuditQueue <= 0 {
		return cfg, fmt.Errorf("RACKET_AUDIT_QUEUE must be > 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil || strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg
}
