package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinic/backend/internal/application/settlement"
	"github.com/clinic/backend/internal/domain/fulfillment"
	"github.com/clinic/backend/internal/infrastructure/cache"
	"github.com/clinic/backend/internal/infrastructure/config"
	"github.com/clinic/backend/internal/infrastructure/dispatch"
	"github.com/clinic/backend/internal/infrastructure/event"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"github.com/clinic/backend/internal/infrastructure/persistence"
	"github.com/clinic/backend/internal/infrastructure/telemetry"
	"github.com/clinic/backend/internal/interfaces/http/handler"
	"github.com/clinic/backend/internal/interfaces/http/middleware"
	"github.com/clinic/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
		Version: version,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Telemetry
	providers, err := telemetry.Setup(ctx, telemetry.Exporter{
		Endpoint:       cfg.Telemetry.CollectorEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	}, telemetry.Signals{
		Traces:          cfg.Telemetry.Enabled,
		SamplingRatio:   cfg.Telemetry.SamplingRatio,
		Metrics:         cfg.Telemetry.MetricsEnabled,
		MetricsInterval: cfg.Telemetry.MetricsInterval,
		Logs:            cfg.Telemetry.LogsEnabled,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	log = providers.BridgeLogs(log, logger.ParseLevel(cfg.Telemetry.LogsLevel))

	log.Info("Starting settlement backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Database
	gormLog := logger.NewSQLLogger(log, cfg.Log.Level, cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.NewDatabase(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.DBTraceEnabled,
		LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBSystem:        "postgresql",
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	fallbackTax, err := cfg.Settlement.TaxRate()
	if err != nil {
		log.Fatal("Invalid settlement configuration", zap.Error(err))
	}

	// Repositories
	budgetRepo := persistence.NewGormBudgetRepository(db.DB)
	ledgerRepo := persistence.NewGormLedgerRepository(db.DB)
	feeRepo := persistence.NewGormFeeConfigRepository(db.DB)
	taxRepo := persistence.NewGormTaxRateRepository(db.DB, fallbackTax)
	orderRegistry := persistence.NewGormOrderRegistry(db.DB)

	// Dispatch claims and downstream order creation
	claims, err := cache.NewClaimStore(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("Failed to initialize dispatch claim store", zap.Error(err))
	}
	dispatcher, dispatcherCloser, err := dispatch.NewOrderDispatcher(cfg.Dispatch, log)
	if err != nil {
		log.Fatal("Failed to initialize order dispatcher", zap.Error(err))
	}
	gate := fulfillment.NewGate(dispatcher, orderRegistry, claims, cfg.Dispatch.ClaimTTL)

	// Events
	eventBus := event.NewInMemoryEventBus(log)
	eventBus.Subscribe(event.NewAuditLogHandler(log))
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	meter := providers.Meter("clinic/settlement")
	settlementMetrics, err := telemetry.NewSettlementMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create settlement metrics", zap.Error(err))
	}

	// Application services
	settlementService := settlement.NewSettlementService(
		budgetRepo,
		ledgerRepo,
		feeRepo,
		taxRepo,
		orderRegistry,
		gate,
		log,
		settlement.WithMaxConflictRetries(cfg.Settlement.MaxConflictRetries),
		settlement.WithEventPublisher(eventBus),
		settlement.WithMetrics(settlementMetrics),
	)
	ratesService := settlement.NewRatesService(feeRepo, taxRepo, log)

	checks := map[string]handler.HealthCheck{
		"database": db.Ping,
	}
	if cfg.Redis.Enabled() {
		checks["redis"] = claims.Ping
	}

	httpMeter := meter
	if !providers.MetricsEnabled() {
		httpMeter = nil
	}
	engine, err := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: providers.TracingEnabled(),
		Meter:          httpMeter,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		CORS:           corsConfig(cfg.HTTP),
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Logger:         log,
		Budgets:        handler.NewBudgetHandler(settlementService),
		Rates:          handler.NewRatesHandler(ratesService),
		System:         handler.NewSystemHandler(version, checks),
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if err := dispatcherCloser.Close(); err != nil {
		log.Error("Error closing order dispatcher", zap.Error(err))
	}
	if err := claims.Close(); err != nil {
		log.Error("Error closing dispatch claim store", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down telemetry", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func corsConfig(cfg config.HTTPConfig) middleware.CORSConfig {
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.CORSAllowOrigins
	if len(cfg.CORSAllowMethods) > 0 {
		cors.AllowMethods = cfg.CORSAllowMethods
	}
	if len(cfg.CORSAllowHeaders) > 0 {
		cors.AllowHeaders = cfg.CORSAllowHeaders
	}
	return cors
}
