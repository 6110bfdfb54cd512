package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/tansy/config"
	"github.com/Ramsey-B/tansy/internal/handlers"
	"github.com/Ramsey-B/tansy/internal/repositories/policyevent"
	"github.com/Ramsey-B/tansy/internal/repositories/retrypolicy"
	"github.com/Ramsey-B/tansy/pkg/database"
	"github.com/Ramsey-B/tansy/pkg/health"
	"github.com/Ramsey-B/tansy/pkg/history"
	"github.com/Ramsey-B/tansy/pkg/kafka"
	"github.com/Ramsey-B/tansy/pkg/middleware"
	"github.com/Ramsey-B/tansy/pkg/pipeline"
	"github.com/Ramsey-B/tansy/pkg/policies"
	"github.com/Ramsey-B/tansy/pkg/presets"
	"github.com/Ramsey-B/tansy/pkg/redisx"
	"github.com/Ramsey-B/tansy/pkg/rollback"
	"github.com/Ramsey-B/tansy/pkg/startup"
	"github.com/Ramsey-B/tansy/pkg/telemetry"
	"github.com/Ramsey-B/tansy/pkg/tracing"
	"github.com/Ramsey-B/tansy/pkg/tracing/exporters"
	"github.com/Ramsey-B/tansy/pkg/triage"
)

var version = "dev"

// app holds the wired service infrastructure. Fields are populated by the
// startup manager in dependency order.
type app struct {
	cfg    config.Config
	logger ectologger.Logger

	db         database.DB
	sqlDB      *sqlx.DB
	redis      *redisx.Client
	producer   *kafka.Producer
	poller     *telemetry.Poller
	policies   *policies.Store
	history    *history.Store
	presets    *presets.Resolver
	rollback   *rollback.Controller
	triage     *triage.Controller
	checker    *health.Checker
	stopTracer func(context.Context) error
}

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	logger.Infof("starting %s version %s", cfg.AppName, version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &app{cfg: cfg, logger: logger}

	manager := startup.NewManager(logger, cfg.StartupMaxAttempts)
	manager.Add(startup.Func{DependencyName: "tracing", StartFunc: a.startTracing, StopFunc: a.stopTracing})
	manager.Add(startup.Func{DependencyName: "database", StartFunc: a.startDatabase, StopFunc: a.stopDatabase})
	manager.Add(startup.Func{DependencyName: "redis", StartFunc: a.startRedis, StopFunc: a.stopRedis})
	manager.Add(startup.Func{DependencyName: "kafka", StartFunc: a.startKafka, StopFunc: a.stopKafka})
	manager.Add(startup.Func{
		DependencyName: "governance",
		DependsOn:      []string{"database", "kafka"},
		StartFunc:      a.startGovernance,
	})
	manager.Add(startup.Func{
		DependencyName: "telemetry",
		DependsOn:      []string{"redis"},
		StartFunc:      a.startTelemetry,
		StopFunc:       a.stopTelemetry,
	})

	if err := manager.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	pipelineCfg := pipeline.DefaultConfig(cfg.PipelineAPIBaseURL)
	pipelineCfg.Timeout = cfg.PipelineAPITimeout
	pipelineClient := pipeline.NewClient(pipelineCfg, logger)

	a.triage = triage.NewController(pipelineClient, a.poller, logger)
	a.checker = health.NewChecker(a.db, a.redis, a.poller, version)

	e := newServer(a)

	go func() {
		a.checker.SetReady(true)
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server stopped unexpectedly")
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	a.checker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shut down server cleanly")
	}
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to stop dependencies cleanly")
	}
}

func newServer(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(a.logger)
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	e.Use(echomiddleware.Recover())

	e.GET("/health/live", a.checker.LivenessHandler)
	e.GET("/health/ready", a.checker.ReadinessHandler)
	e.GET("/health", a.checker.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	handlers.NewPolicyHandler(a.policies, a.history, a.presets).RegisterRoutes(api)
	handlers.NewRollbackHandler(a.rollback).RegisterRoutes(api)
	handlers.NewJobHandler(a.triage).RegisterRoutes(api)
	handlers.NewTelemetryHandler(a.poller).RegisterRoutes(api)

	e.Server.ReadTimeout = time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = a.cfg.MaxHeaderBytes

	return e
}

func (a *app) startTracing(ctx context.Context) error {
	if !a.cfg.OTLPEnabled {
		return nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: a.cfg.OTLPEndpoint,
		Protocol: a.cfg.OTLPProtocol,
		Insecure: a.cfg.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	a.stopTracer = tracing.Init(a.cfg.AppName, exporter)
	a.logger.Info("OTLP tracing enabled")
	return nil
}

func (a *app) stopTracing(ctx context.Context) error {
	if a.stopTracer == nil {
		return nil
	}
	return a.stopTracer(ctx)
}

func (a *app) startDatabase(ctx context.Context) error {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		a.cfg.DatabaseHost, a.cfg.DatabasePort, a.cfg.DatabaseUserName,
		a.cfg.DatabasePassword, a.cfg.DatabaseName, a.cfg.DatabaseSSLMode,
	)

	db, err := sqlx.ConnectContext(ctx, a.cfg.DatabaseDriver, dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(a.cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(a.cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(a.cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	migrationService := database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             uint(a.cfg.DatabaseMigrationVersion),
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrationService.Migrate(a.cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	a.sqlDB = db
	a.db = database.NewDatabaseInstance(db, a.logger)
	return nil
}

func (a *app) stopDatabase(context.Context) error {
	if a.sqlDB == nil {
		return nil
	}
	return a.sqlDB.Close()
}

func (a *app) startRedis(context.Context) error {
	client, err := redisx.NewClient(redisx.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.redis = client
	return nil
}

func (a *app) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startKafka(context.Context) error {
	a.producer = kafka.NewProducer(kafka.ParseConfig(a.cfg.KafkaBrokers, a.cfg.KafkaPolicyTopic), a.logger)
	return nil
}

func (a *app) stopKafka(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *app) startGovernance(ctx context.Context) error {
	eventRepo := policyevent.NewRepository(a.db, a.logger)
	policyRepo := retrypolicy.NewRepository(a.db, eventRepo, a.logger)

	a.policies = policies.NewStore(policyRepo, a.logger)
	a.history = history.NewStore(eventRepo, a.cfg.HistoryPageSize, a.logger)
	a.presets = presets.NewResolver(policyRepo, eventRepo, a.logger)
	a.rollback = rollback.NewController(a.policies, a.presets, eventRepo, a.logger)

	a.policies.OnMutation(func(ctx context.Context, m policies.Mutation) {
		if err := a.producer.PublishPolicyChange(ctx, &kafka.PolicyChangeMessage{
			JobType: m.JobType,
			Action:  m.Action,
			Before:  m.Before,
			After:   m.After,
			ActorID: m.ActorID,
		}); err != nil {
			a.logger.WithContext(ctx).WithError(err).Error("failed to publish policy change")
		}
	})
	a.policies.OnMutation(func(_ context.Context, m policies.Mutation) {
		a.history.Invalidate(m.JobType)
		a.presets.Invalidate(m.JobType)
	})

	if err := a.policies.Load(ctx); err != nil {
		return fmt.Errorf("failed to load retry policies: %w", err)
	}
	return nil
}

func (a *app) startTelemetry(ctx context.Context) error {
	inspector := redisx.NewInspector(a.redis, redisx.QueueConfig{
		JobStream:          a.cfg.PipelineJobStream,
		ConsumerGroup:      a.cfg.PipelineConsumerGroup,
		DLQStream:          a.cfg.PipelineDLQStream,
		StaleIdleThreshold: a.cfg.PipelineStaleThreshold,
	})

	a.poller = telemetry.NewPoller(inspector, a.cfg.TelemetryPollInterval, a.logger)
	return a.poller.Start(ctx)
}

func (a *app) stopTelemetry(ctx context.Context) error {
	if a.poller == nil {
		return nil
	}
	return a.poller.Stop(ctx)
}

func newLogger(cfg config.Config) ectologger.Logger {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		level = parsed
	}

	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}
