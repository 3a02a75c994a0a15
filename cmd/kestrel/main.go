// Kestrel - Real-time fraud scoring for multi-tenant banking platforms.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerts"
	"github.com/opensource-finance/kestrel/internal/analyzer"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/behavior"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/devices"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if port := os.Getenv("KESTREL_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize the history service backing behavioral lookups
	historySvc := history.NewService(repo, cacheImpl)

	// Initialize Rule Engine
	engine, err := rules.NewEngine(historySvc, cfg.Analysis.MaxRuleWorkers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	ruleStore := rules.NewStore(repo, cacheImpl, engine)
	slog.Info("rule engine initialized", "max_workers", cfg.Analysis.MaxRuleWorkers)

	// Seed the starter rule set for a tenant when requested
	if tenantID := os.Getenv("KESTREL_SEED_RULES"); tenantID != "" {
		if err := seedBuiltinRules(ctx, ruleStore, tenantID); err != nil {
			slog.Error("failed to seed builtin rules", "tenant_id", tenantID, "error", err)
			os.Exit(1)
		}
	}

	// Initialize the signal evaluators
	behaviorAnalyzer := behavior.NewAnalyzer(historySvc, cfg.Analysis.HistoryDays)
	registry := devices.NewRegistry(repo)
	geoEvaluator := geo.NewEvaluator(historySvc, repo, cfg.Analysis.LocationDays, cfg.Analysis.HighRiskCountries)
	slog.Info("signal evaluators initialized",
		"history_days", cfg.Analysis.HistoryDays,
		"location_days", cfg.Analysis.LocationDays,
		"high_risk_countries", len(cfg.Analysis.HighRiskCountries),
	)

	// Initialize the alert lifecycle
	alertManager := alerts.NewManager(repo, busImpl)
	statistics := alerts.NewStatistics(repo)

	// Initialize the scoring pipeline
	pipeline := analyzer.New(ruleStore, engine, behaviorAnalyzer, registry, geoEvaluator, alertManager)
	slog.Info("analyzer initialized")

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, pipeline, historySvc)

		var tenantIDs []string
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			for _, tenantID := range strings.Split(envTenants, ",") {
				if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
					tenantIDs = append(tenantIDs, tenantID)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:                     repo,
		Cache:                    cacheImpl,
		Bus:                      busImpl,
		Analyzer:                 pipeline,
		History:                  historySvc,
		Rules:                    ruleStore,
		Alerts:                   alertManager,
		Stats:                    statistics,
		Devices:                  registry,
		Version:                  Version,
		AsyncIngest:              cfg.Analysis.AsyncIngest && asyncWorker != nil,
		DefaultHighRiskCountries: cfg.Analysis.HighRiskCountries,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// seedBuiltinRules writes the starter rule set for a tenant. SaveRule
// upserts on (id, tenant), so seeding is idempotent and never clobbers
// rules created via the API.
func seedBuiltinRules(ctx context.Context, store *rules.Store, tenantID string) error {
	seeded := 0
	for _, rule := range rules.BuiltinRules() {
		if err := store.Create(ctx, tenantID, rule); err != nil {
			return fmt.Errorf("seeding rule %q: %w", rule.ID, err)
		}
		seeded++
	}

	slog.Info("builtin rules seeded", "tenant_id", tenantID, "count", seeded)
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🪶 KESTREL                   ║")
	fmt.Println("  ║        Fraud Risk Scoring Engine           ║")
	fmt.Println("  ║     Every transaction, weighed fast.       ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/analyze              - Score a transaction")
	fmt.Println("    POST /api/v1/transactions         - Ingest a transaction")
	fmt.Println("    GET  /api/v1/rules                - List rules")
	fmt.Println("    POST /api/v1/rules                - Create a rule")
	fmt.Println("    GET  /api/v1/alerts               - List alerts")
	fmt.Println("    POST /api/v1/alerts/{id}/review   - Review an alert")
	fmt.Println("    POST /api/v1/devices              - Register a trusted device")
	fmt.Println("    GET  /api/v1/statistics           - Daily statistics")
	fmt.Println("    GET  /api/v1/settings             - Tenant settings")
	fmt.Println("    GET  /health                      - Health check")
	fmt.Println()
}
