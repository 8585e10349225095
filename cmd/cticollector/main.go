package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/hive-corporation/cticollector/internal/adapter/handler"
	"github.com/hive-corporation/cticollector/internal/adapter/repository"
	"github.com/hive-corporation/cticollector/internal/config"
	"github.com/hive-corporation/cticollector/internal/logger"
)

func main() {
	cfg, err := config.Load()
	logger.Configure(cfg.LoggerOptions())
	if err != nil {
		logger.Log().Fatalf("❌ Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DatabasePath
	if cfg.StoreDriver == repository.DriverPostgres {
		dsn = cfg.DatabaseURL
	}
	store, err := repository.Open(ctx, cfg.StoreDriver, dsn)
	if err != nil {
		logger.Log().Fatalf("Unable to open %s store: %v", cfg.StoreDriver, err)
	}
	defer store.Close()

	// GRPC_LISTEN_ADDR defaults to localhost only
	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		logger.Log().Fatalf("failed to listen: %v", err)
	}

	s := grpc.NewServer()
	handler.RegisterIOCServiceServer(s, handler.NewGrpcServer(store))
	reflection.Register(s)

	go func() {
		logger.Log().Infof("🚀 CTI Collector gRPC API listening on %s", cfg.GRPCListenAddr)
		if err := s.Serve(lis); err != nil {
			logger.Log().Fatalf("failed to serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Log().Info("Shutting down server...")
	s.GracefulStop()
}
