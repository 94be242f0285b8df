package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecSpeed/firmwareextrs/internal/api/handler"
	"github.com/RecSpeed/firmwareextrs/internal/api/router"
	"github.com/RecSpeed/firmwareextrs/internal/config"
	"github.com/RecSpeed/firmwareextrs/internal/extract"
	"github.com/RecSpeed/firmwareextrs/internal/extract/ci"
	"github.com/RecSpeed/firmwareextrs/internal/extract/events"
	"github.com/RecSpeed/firmwareextrs/internal/extract/storage"
	"github.com/RecSpeed/firmwareextrs/shared/logger"
	"github.com/RecSpeed/firmwareextrs/shared/metrics"
	"github.com/RecSpeed/firmwareextrs/shared/postgresql"
	"github.com/RecSpeed/firmwareextrs/shared/rabbitmq"
	"github.com/RecSpeed/firmwareextrs/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("FCE_API_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/fce-api/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting firmware extraction API",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("wait_mode", string(cfg.Extraction.Wait.Mode)),
	)

	if cfg.GitHub.Token == "" {
		appLogger.Warn("GITHUB_TOKEN is not set, workflow dispatches will be rejected")
	}

	// Initialize metrics
	var (
		m              metrics.Metrics = metrics.Noop{}
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		prom, err := metrics.NewProm(cfg.Metrics.Namespace, reg)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		m = prom
		metricsHandler = metrics.Handler(reg)
	}

	// Initialize cache backend
	store, closeStore, err := initStore(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer closeStore()

	appLogger.Info("Cache backend ready", slog.String("backend", cfg.Cache.Backend))

	// Initialize job event publisher
	var publisher events.Publisher = events.Noop{}
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		publisher = events.NewAMQPPublisher(rabbitClient, cfg.RabbitMQ.RoutingPrefix, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	}

	svc := initService(cfg, store, publisher, m, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg.App.Environment, appLogger.Logger, svc, m, metricsHandler)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		appLogger.Error("Server failed to start", slog.Any("error", err))
		return err
	case <-quit:
	}

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
	}

	return logger.New(loggerCfg)
}

// initStore opens the configured cache backend and returns its cleanup
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, func(), error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		client, err := redis.NewClient(&redis.Config{
			URL:          cfg.Redis.URL,
			PoolSize:     cfg.Redis.PoolSize,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewRedisStore(client.GetClient(), cfg.Cache.KeyPrefix), closer(client), nil

	case config.BackendPostgres:
		client, err := initPostgreSQL(&cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewPostgresStore(client.GetDB())

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		logger.Info("PostgreSQL cache ready", slog.String("stats", client.Stats()))
		return store, closer(client), nil

	default:
		logger.Warn("Using in-memory cache, job records are lost on restart")
		return storage.NewMemoryStore(nil), func() {}, nil
	}
}

func closer(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initService wires the extraction state machine
func initService(cfg *config.Config, store storage.Store, publisher events.Publisher, m metrics.Metrics, logger *slog.Logger) *extract.Service {
	ciClient := ci.NewClient(ci.Config{
		BaseURL:     cfg.GitHub.APIURL,
		Owner:       cfg.GitHub.Owner,
		Repo:        cfg.GitHub.Repo,
		Workflow:    cfg.GitHub.Workflow,
		Ref:         cfg.GitHub.Ref,
		ReleaseTag:  cfg.GitHub.ReleaseTag,
		Token:       cfg.GitHub.Token,
		UserAgent:   cfg.GitHub.UserAgent,
		Timeout:     cfg.GitHub.Timeout,
		RunsPerPage: cfg.GitHub.RunsPerPage,
	}, nil, logger, m)

	return extract.NewService(extract.Dependencies{
		Normalizer: extract.NewNormalizer(cfg.Extraction.MirrorHosts, cfg.Extraction.CanonicalMirror),
		Jobs:       storage.NewJobStore(store, logger, m),
		CI:         ciClient,
		Events:     publisher,
		Metrics:    m,
		Logger:     logger,
	}, extract.Options{
		ImageKinds:       cfg.Extraction.ImageTypes,
		DefaultImageKind: cfg.Extraction.DefaultImageType,
		ProcessingTTL:    cfg.Cache.TTL.Processing,
		DoneTTL:          cfg.Cache.TTL.Done,
		DispatchGrace:    cfg.Extraction.DispatchGrace,
		FailureCooldown:  cfg.Extraction.FailureCooldown,
		Wait: extract.WaitPolicy{
			Mode:        cfg.Extraction.Wait.Mode,
			MaxAttempts: cfg.Extraction.Wait.MaxAttempts,
			Interval:    cfg.Extraction.Wait.Interval,
		},
	})
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, svc *extract.Service, m metrics.Metrics, metricsHandler http.Handler) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:   logger,
		Resolver: svc,
	}

	// Setup router
	return router.SetupRouter(handlerDeps, router.Options{
		Metrics:        m,
		MetricsHandler: metricsHandler,
	})
}
