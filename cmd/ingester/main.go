package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hive-corporation/cticollector/internal/adapter/notifier"
	"github.com/hive-corporation/cticollector/internal/adapter/provider"
	"github.com/hive-corporation/cticollector/internal/adapter/repository"
	"github.com/hive-corporation/cticollector/internal/config"
	"github.com/hive-corporation/cticollector/internal/core/domain"
	"github.com/hive-corporation/cticollector/internal/core/ports"
	"github.com/hive-corporation/cticollector/internal/core/service"
	"github.com/hive-corporation/cticollector/internal/logger"
	"github.com/hive-corporation/cticollector/internal/metrics"
	"github.com/hive-corporation/cticollector/internal/tracing"
)

func main() {
	schedule := flag.Bool("schedule", false, "run on COLLECTION_SCHEDULE instead of once")
	dryRun := flag.Bool("dry-run", false, "collect into an in-memory store and print the report")
	statsOnly := flag.Bool("stats", false, "print store statistics and exit")
	statsDays := flag.Int("days", 7, "window for -stats in days")
	flag.Parse()

	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	cfg, err := config.Load()
	logger.Configure(cfg.LoggerOptions())
	if err != nil {
		logger.Log().Fatalf("❌ Invalid configuration: %v", err)
	}
	metrics.Init(nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.TracingOptions("cticollector-ingester"))
	if err != nil {
		logger.Log().Fatalf("❌ Error initializing tracing: %v", err)
	}
	defer tracing.Flush(ctx, shutdownTracing)

	driver, dsn := cfg.StoreDriver, storeDSN(cfg)
	if *dryRun {
		driver, dsn = repository.DriverMemory, ""
	}

	logger.Log().Infof("🔌 Opening %s store...", driver)
	store, err := repository.Open(ctx, driver, dsn)
	if err != nil {
		logger.Log().Fatalf("❌ Error opening store: %v", err)
	}
	defer store.Close()

	if *statsOnly {
		printStats(ctx, store, *statsDays)
		return
	}

	policies, _ := cfg.ScorePolicies()
	engine := service.NewMergeEngine(store, service.WithScorePolicy(policies[0], policies[1]))

	notifiers, closer := notifier.FromConfig(cfg)
	defer closer.Close()

	orch := service.NewOrchestrator(service.OrchestratorConfig{
		FetchConcurrency: cfg.FetchConcurrency,
		FetchTimeout:     cfg.FetchTimeout,
		NotifyMinThreat:  cfg.NotifyMinThreat,
	}, store, engine, provider.FromConfig(cfg), notifiers...)

	if !*schedule {
		report, err := orch.Run(ctx)
		if *dryRun {
			printJSON(report)
		}
		if err != nil {
			logger.Log().WithError(err).Error("❌ Collection run interrupted")
			exitCode = 1
			return
		}
		if report.Totals().Status == domain.StatusFailed {
			exitCode = 1
		}
		return
	}

	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	if _, err := c.AddFunc(cfg.Schedule, func() {
		if _, err := orch.Run(ctx); err != nil {
			logger.Log().WithError(err).Warn("⚠️ Scheduled run interrupted")
		}
	}); err != nil {
		logger.Log().Fatalf("❌ Invalid schedule %q: %v", cfg.Schedule, err)
	}

	c.Start()
	logger.Log().Infof("⏰ Collection scheduled with %q", cfg.Schedule)

	<-ctx.Done()
	logger.Log().Info("🛑 Stopping scheduler, waiting for a running collection...")
	<-c.Stop().Done()
	logger.Log().Info("✅ Scheduler stopped")
}

func storeDSN(cfg config.Config) string {
	if cfg.StoreDriver == repository.DriverPostgres {
		return cfg.DatabaseURL
	}
	return cfg.DatabasePath
}

func printStats(ctx context.Context, store ports.HistoricalStore, days int) {
	stats, err := store.QueryStats(ctx, time.Now().Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		logger.Log().Fatalf("❌ Failed to compute stats: %v", err)
	}
	printJSON(map[string]interface{}{
		"window_days":  days,
		"stats":        stats,
		"success_rate": stats.SuccessRate(),
	})
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Log().WithError(err).Error("failed to encode output")
	}
}
