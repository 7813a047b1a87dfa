package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edupulse/learning-integrity-backend/internal/api/rest"
	"github.com/edupulse/learning-integrity-backend/internal/infrastructure/cache"
	"github.com/edupulse/learning-integrity-backend/internal/infrastructure/config"
	"github.com/edupulse/learning-integrity-backend/internal/infrastructure/database"
	"github.com/edupulse/learning-integrity-backend/internal/infrastructure/repository"
	"github.com/edupulse/learning-integrity-backend/internal/infrastructure/telemetry"
	"github.com/edupulse/learning-integrity-backend/internal/metrics"
	"github.com/edupulse/learning-integrity-backend/internal/service/fraud"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to set up logger: %v", err)
	}
	slog.SetDefault(logger)

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to set up infra logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	ctx := context.Background()

	telConfig := telemetry.DefaultConfig()
	telConfig.ServiceVersion = cfg.Version
	telConfig.Environment = cfg.Environment
	telConfig.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	telConfig.SamplingRate = cfg.Telemetry.SampleRate
	telConfig.Enabled = cfg.Telemetry.OTLPEndpoint != ""

	provider, err := telemetry.InitializeOpenTelemetry(ctx, telConfig)
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	pool, err := database.NewConnectionPool(&cfg.Database, zapLogger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = pool.Close() }()

	db, err := pool.DB()
	if err != nil {
		logger.Error("failed to open sql adapter", "error", err)
		os.Exit(1)
	}

	redisClient, err := cache.NewClient(cfg.Redis, zapLogger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisClient.Close() }()

	registry, err := metrics.NewRegistry("learning-integrity-backend")
	if err != nil {
		logger.Error("failed to build metrics registry", "error", err)
		os.Exit(1)
	}

	svc := fraud.NewService(fraud.Deps{
		Profiles:   repository.NewProfileRepository(db),
		Scores:     repository.NewScoreRepository(db),
		Alerts:     repository.NewAlertRepository(db),
		Thresholds: repository.NewThresholdRepository(db),
		Model:      fraud.NewLogisticModel(),
		Rates:      cache.NewRateTracker(redisClient, 2*cfg.Fraud.RateWindow),
		Cache:      cache.NewScoreCache(redisClient),
		Events:     repository.NewEventLogRepository(db, zapLogger),
		Metrics:    registry,
		Logger:     logger,
		Rules:      &cfg.Fraud,
	})

	server := rest.NewServer(cfg.Server, svc, pool, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
