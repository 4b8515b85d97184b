// Command server runs the reference store: the authoritative stock and order
// service sync agents talk to over /rpc/v1.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/ordersync/internal/application/remotestore"
	"github.com/erp/ordersync/internal/domain/shared"
	"github.com/erp/ordersync/internal/infrastructure/cache"
	"github.com/erp/ordersync/internal/infrastructure/config"
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/infrastructure/migration"
	"github.com/erp/ordersync/internal/infrastructure/persistence"
	"github.com/erp/ordersync/internal/infrastructure/telemetry"
	"github.com/erp/ordersync/internal/interfaces/http/handler"
	"github.com/erp/ordersync/internal/interfaces/http/middleware"
	"github.com/erp/ordersync/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting reference store",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("addr", cfg.RemoteStore.ListenAddr),
		zap.Bool("atomic_enabled", cfg.RemoteStore.AtomicEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName + "-store",
		Insecure:          cfg.Telemetry.Insecure,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetryCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	logsCfg := telemetryCfg
	logsCfg.Enabled = cfg.Telemetry.Enabled && cfg.Telemetry.Logs
	loggerProvider, err := telemetry.NewLoggerProvider(ctx, logsCfg, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	defer func() {
		if err := loggerProvider.Shutdown(context.Background()); err != nil {
			log.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()
	log = logger.WithCores(log, loggerProvider.Core(logger.ParseLevel(cfg.Log.Level)))

	db, err := persistence.NewDatabase(&cfg.Database, cfg.Log.DBLevel, log,
		persistence.WithQueryTracing(telemetry.DBTracingConfig{
			Enabled:            cfg.Telemetry.Enabled && cfg.Telemetry.DBTracing,
			DBName:             cfg.Database.DBName,
			SlowQueryThreshold: cfg.Telemetry.SlowQueryThreshold,
		}, log.Named("db")),
	)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := applyMigrations(db, cfg.RemoteStore.MigrationsPath, log); err != nil {
		log.Fatal("Failed to apply migrations", zap.Error(err))
	}

	idem := cache.NewIdempotencyStore(ctx, cfg.Redis, log)
	defer func() {
		if err := idem.Close(); err != nil {
			log.Error("Error closing idempotency store", zap.Error(err))
		}
	}()

	store := remotestore.NewService(
		persistence.NewGormRemoteOrderRepository(db.DB),
		persistence.NewGormStockRepository(db.DB),
		persistence.NewGormMermaRepository(db.DB),
		persistence.NewGormPricingRepository(db.DB),
		idem,
		remotestore.Config{
			AtomicEnabled: cfg.RemoteStore.AtomicEnabled,
			Idempotency:   shared.IdempotencyConfig{Enabled: true, TTL: cfg.RemoteStore.IdempotencyTTL},
			HealthCheck:   db.Ping,
		},
		log,
	)

	var limiter *middleware.RateLimiter
	if cfg.HTTP.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(ctx, cfg.HTTP.RateLimit, cfg.HTTP.RateWindow)
	}
	engine := router.NewRPCEngine(router.EngineConfig{
		ServiceName: telemetryCfg.ServiceName,
		Tracing:     cfg.Telemetry.Enabled,
		MaxBodySize: cfg.HTTP.MaxBodySize,
		Meter:       meterProvider.Meter("ordersync/store"),
		Limiter:     limiter,
	}, log, handler.NewRPCHandler(store))

	srv := &http.Server{
		Addr:         cfg.RemoteStore.ListenAddr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	log.Info("Server exited gracefully")
}

func applyMigrations(db *persistence.Database, path string, log *zap.Logger) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, path, log)
	if err != nil {
		return err
	}
	return m.Up()
}
