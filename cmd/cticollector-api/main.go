package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hive-corporation/cticollector/internal/adapter/handler"
	"github.com/hive-corporation/cticollector/internal/adapter/repository"
	"github.com/hive-corporation/cticollector/internal/config"
	"github.com/hive-corporation/cticollector/internal/logger"
	"github.com/hive-corporation/cticollector/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	logger.Configure(cfg.LoggerOptions())
	if err != nil {
		logger.Log().Fatalf("❌ Invalid configuration: %v", err)
	}

	metrics.Init(nil)
	logger.Log().Info("✅ Prometheus metrics initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DatabasePath
	if cfg.StoreDriver == repository.DriverPostgres {
		dsn = cfg.DatabaseURL
	}
	store, err := repository.Open(ctx, cfg.StoreDriver, dsn)
	if err != nil {
		logger.Log().Fatalf("❌ Failed to open %s store: %v", cfg.StoreDriver, err)
	}
	defer store.Close()

	router := handler.NewRestHandler(store).Router(cfg.APIAuthToken, promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.RESTPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log().Infof("🚀 CTI Collector REST API listening on port %s", cfg.RESTPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Log().Info("🛑 Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log().Errorf("❌ Server forced to shutdown: %v", err)
		return
	}
	logger.Log().Info("✅ Server stopped gracefully")
}
