// Command syncagent runs on a field device. It serves the local order API,
// keeps the offline queue and drains it to the remote store when reachable.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erp/ordersync/internal/application/offlinesync"
	"github.com/erp/ordersync/internal/application/ordering"
	"github.com/erp/ordersync/internal/domain/offline"
	"github.com/erp/ordersync/internal/infrastructure/config"
	"github.com/erp/ordersync/internal/infrastructure/gateway"
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/infrastructure/persistence"
	"github.com/erp/ordersync/internal/infrastructure/pricingfeed"
	"github.com/erp/ordersync/internal/infrastructure/remote"
	"github.com/erp/ordersync/internal/infrastructure/scheduler"
	"github.com/erp/ordersync/internal/infrastructure/telemetry"
	"github.com/erp/ordersync/internal/interfaces/http/handler"
	"github.com/erp/ordersync/internal/interfaces/http/router"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	base, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = base.Sync() }()
	log := base.With(zap.String("device_id", cfg.App.DeviceID))

	log.Info("Starting sync agent",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("remote", cfg.Remote.BaseURL),
		zap.String("queue", cfg.Queue.Path),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName + "-agent",
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
	log = logger.WithCores(base, loggerProvider.Core(logger.ParseLevel(cfg.Log.Level))).
		With(zap.String("device_id", cfg.App.DeviceID))

	meter := meterProvider.Meter("ordersync/agent")
	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}

	db, err := persistence.OpenQueueDatabase(cfg.Queue.Path, cfg.Log.DBLevel, log,
		persistence.WithQueryTracing(telemetry.DBTracingConfig{
			Enabled:            cfg.Telemetry.Enabled && cfg.Telemetry.DBTracing,
			DBName:             "queue",
			SlowQueryThreshold: cfg.Telemetry.SlowQueryThreshold,
		}, log.Named("db")),
	)
	if err != nil {
		log.Fatal("Failed to open queue database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing queue database", zap.Error(err))
		}
	}()

	client := remote.NewClient(remote.Config{
		BaseURL:       cfg.Remote.BaseURL,
		DeviceID:      cfg.App.DeviceID,
		Timeout:       cfg.Remote.Timeout,
		RetryCount:    cfg.Remote.RetryCount,
		RetryWaitTime: cfg.Remote.RetryWaitTime,
	}, log.Named("remote"))

	deviceCache := persistence.NewGormDeviceCache(db.DB)
	stockView := ordering.NewStockView(client, deviceCache, log)

	negotiator := gateway.NewRemoteNegotiator(client,
		gateway.WithReprobeInterval(cfg.Gateway.ReprobeInterval),
		gateway.WithMetrics(syncMetrics),
		gateway.WithLogger(log.Named("gateway")),
	)

	coordinator := offlinesync.NewCoordinator(
		persistence.NewGormQueueRepository(db.DB),
		negotiator,
		stockView,
		offlinesync.Config{ItemTimeout: cfg.Sync.ItemTimeout, HistorySize: cfg.Sync.HistorySize},
		offlinesync.WithLogger(log.Named("sync")),
		offlinesync.WithMetrics(syncMetrics),
		offlinesync.WithTracer(tracerProvider.Tracer("ordersync/offlinesync")),
	)

	pricingProvider := pricingfeed.NewProvider(client, deviceCache, cfg.Pricing.CacheTTL, log.Named("pricing"))
	if err := pricingProvider.LoadSnapshot(ctx); err != nil {
		log.Warn("Failed to load pricing snapshot", zap.Error(err))
	}

	coordinator.OnResult(func(result offline.SyncResult) {
		if result.NeedsAttention() {
			log.Warn("sync left entries that need review",
				zap.Int("conflicts", len(result.Conflicts)),
				zap.String("trigger", string(result.Trigger)),
			)
		}
		if result.TotalSynced() > 0 {
			refreshCtx, cancel := context.WithTimeout(context.Background(), cfg.Remote.Timeout)
			defer cancel()
			if err := pricingProvider.Refresh(refreshCtx); err != nil {
				log.Debug("pricing refresh after sync failed", zap.Error(err))
			}
		}
	})

	watcher := scheduler.NewConnectivityWatcher(scheduler.ConnectivityWatcherConfig{
		CheckInterval: cfg.Sync.ConnectivityCheckInterval,
		SyncOnStart:   cfg.Sync.SyncOnStart,
	}, client, coordinator, log.Named("connectivity"))

	var cronTrigger *scheduler.CronTrigger
	if cfg.Sync.CronSchedule != "" {
		cronTrigger, err = scheduler.NewCronTrigger(scheduler.CronTriggerConfig{
			Schedule:   cfg.Sync.CronSchedule,
			RunTimeout: 5 * time.Minute,
		}, coordinator, log.Named("cron"))
		if err != nil {
			log.Fatal("Failed to create sync schedule", zap.Error(err))
		}
	}

	orderingService := ordering.NewService(pricingProvider, stockView, coordinator, watcher, log.Named("ordering"))

	engine := router.NewAgentEngine(router.EngineConfig{
		ServiceName: telemetryCfg.ServiceName,
		Tracing:     cfg.Telemetry.Enabled,
		MaxBodySize: cfg.HTTP.MaxBodySize,
		Meter:       meter,
	}, log, handler.NewAgentHandler(orderingService, coordinator))

	srv := &http.Server{
		Addr:         cfg.App.ListenAddr,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	if err := watcher.Start(ctx); err != nil {
		log.Fatal("Failed to start connectivity watcher", zap.Error(err))
	}
	if cronTrigger != nil {
		if err := cronTrigger.Start(ctx); err != nil {
			log.Fatal("Failed to start sync schedule", zap.Error(err))
		}
	}

	go func() {
		log.Info("Agent API starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start agent API", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down sync agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Agent API forced to shutdown", zap.Error(err))
	}
	if cronTrigger != nil {
		if err := cronTrigger.Stop(shutdownCtx); err != nil {
			log.Error("Error stopping sync schedule", zap.Error(err))
		}
	}
	if err := watcher.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping connectivity watcher", zap.Error(err))
	}
	log.Info("Sync agent exited gracefully")
}
