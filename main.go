package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/tendril/config"
	"github.com/Ramsey-B/tendril/internal/handlers"
	"github.com/Ramsey-B/tendril/pkg/catalog"
	"github.com/Ramsey-B/tendril/pkg/connections"
	"github.com/Ramsey-B/tendril/pkg/contentstore"
	"github.com/Ramsey-B/tendril/pkg/database"
	"github.com/Ramsey-B/tendril/pkg/events"
	"github.com/Ramsey-B/tendril/pkg/health"
	"github.com/Ramsey-B/tendril/pkg/kafka"
	"github.com/Ramsey-B/tendril/pkg/lifecycle"
	"github.com/Ramsey-B/tendril/pkg/middleware"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/permissions"
	"github.com/Ramsey-B/tendril/pkg/reconcile"
	"github.com/Ramsey-B/tendril/pkg/redis"
	"github.com/Ramsey-B/tendril/pkg/repositories"
	"github.com/Ramsey-B/tendril/pkg/syncer"
	"github.com/Ramsey-B/tendril/pkg/syncstatus"
	"github.com/Ramsey-B/tendril/pkg/tracing"
	"github.com/Ramsey-B/tendril/pkg/tracing/exporters"
	"github.com/Ramsey-B/tendril/pkg/worker"
	"github.com/Ramsey-B/tendril/pkg/workflow"
)

// version is stamped at build time
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("failed to load config: %v", err)
	}

	zapLogger, err := newZapLogger(cfg)
	if err != nil {
		stdlog.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	if cfg.OTLPEnabled {
		shutdown, err := initTracing(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer shutdown()
	}

	sqlxDB, err := connectDatabase(cfg)
	if err != nil {
		return err
	}
	defer sqlxDB.Close()
	db := database.NewDatabaseInstance(sqlxDB, logger)

	if err := migrateDatabase(cfg, logger, sqlxDB); err != nil {
		return err
	}

	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	locker := redis.NewLocker(redisClient, cfg.AppName)
	streams := redis.NewStreams(redisClient)

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: strings.Split(cfg.KafkaBrokers, ","),
		Topic:   cfg.KafkaConnectorEventsTopic,
	}, logger)
	defer producer.Close()
	emitter := events.NewEmitter(producer, logger)

	storeCfg := contentstore.DefaultConfig(cfg.ContentStoreURL, cfg.ContentStoreAPIKey)
	storeCfg.Timeout = cfg.ContentStoreTimeout
	store := contentstore.NewClient(storeCfg, logger)

	resolver := connections.NewClient(connections.Config{
		BaseURL: cfg.ConnectionsURL,
		APIKey:  cfg.ConnectionsAPIKey,
		Timeout: cfg.ConnectionsTimeout,
	}, logger)

	connectorRepo := repositories.NewConnectorRepository(db, logger)
	containerRepo := repositories.NewContainerRepository(db, logger)
	itemRepo := repositories.NewContentItemRepository(db, logger)
	cursorRepo := repositories.NewCursorRepository(db, logger)

	tree := permissions.NewTree(containerRepo, itemRepo, logger)
	engine := reconcile.NewEngine(containerRepo, itemRepo, store, logger)
	reporter := syncstatus.NewReporter(connectorRepo, emitter, logger)
	runtime := workflow.NewStreamsRuntime(streams, logger)

	zendeskFactory := func(ctx context.Context, connector *models.Connector) (catalog.ZendeskClient, error) {
		connection, err := resolver.Resolve(ctx, connector.ConnectionID)
		if err != nil {
			return nil, err
		}
		return catalog.NewZendeskClient(catalog.ZendeskConfig{
			Subdomain:   connector.Subdomain,
			AccessToken: connection.AccessToken,
			Timeout:     cfg.ZendeskTimeout,
		}, logger), nil
	}
	snowflakeFactory := func(ctx context.Context, connector *models.Connector) (catalog.SnowflakeClient, error) {
		connection, err := resolver.Resolve(ctx, connector.ConnectionID)
		if err != nil {
			return nil, err
		}
		warehouseDB, err := sqlx.Open(connection.Driver, connection.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
		}
		return catalog.NewSnowflakeClient(warehouseDB, logger), nil
	}

	activities := syncer.New(syncer.Config{
		Connectors: connectorRepo,
		Cursors:    cursorRepo,
		Items:      itemRepo,
		Tree:       tree,
		Engine:     engine,
		Status:     reporter,
		Zendesk:    zendeskFactory,
		Snowflake:  snowflakeFactory,
		Locker:     locker,
	}, logger)

	consumerName := cfg.WorkflowConsumerName
	if consumerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to derive consumer name: %w", err)
		}
		consumerName = hostname
	}
	syncWorker := worker.New(worker.Config{
		Streams:    streams,
		Connectors: connectorRepo,
		Activities: activities,
		Stream:     cfg.WorkflowCommandStream,
		Group:      cfg.WorkflowConsumerGroup,
		Consumer:   consumerName,
	}, logger)

	manager := lifecycle.NewManager(lifecycle.ManagerConfig{
		Connectors: connectorRepo,
		Containers: containerRepo,
		Items:      itemRepo,
		Cursors:    cursorRepo,
		Tree:       tree,
		Runtime:    runtime,
		Emitter:    emitter,
		Zendesk:    zendeskFactory,
	}, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.HTTPErrorHandler = middleware.Error(logger)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	checker := health.NewChecker(sqlxDB, redisClient.Redis(), version)
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	handlers.NewConnectorHandler(manager).RegisterRoutes(api)

	go func() {
		if err := syncWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Error("workflow worker exited with error")
		}
	}()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serverErrs := make(chan error, 1)
	go func() {
		logger.Infof("Starting %s on port %d", cfg.AppName, cfg.Port)
		if err := e.StartServer(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- err
		}
	}()

	checker.SetReady(true)

	select {
	case err := <-serverErrs:
		return err
	case <-ctx.Done():
	}

	checker.SetReady(false)
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newZapLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.PrettyLogs {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func initTracing(ctx context.Context, cfg *config.Config) (func(), error) {
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(sdkresource.NewSchemaless(
			attribute.String("service.name", cfg.AppName),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(provider)
	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}, nil
}

func connectDatabase(cfg *config.Config) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword,
		cfg.DatabaseName, cfg.DatabaseSSLMode)

	db, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)
	return db, nil
}

func migrateDatabase(cfg *config.Config, logger ectologger.Logger, db *sqlx.DB) error {
	driver, err := migratepg.WithInstance(db.DB, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	migrator := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
	})
	return migrator.Migrate(cfg.DatabaseName, driver)
}
