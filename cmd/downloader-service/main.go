package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/hls-downloader/internal/api/handler"
	"github.com/cuongbtq/hls-downloader/internal/api/router"
	"github.com/cuongbtq/hls-downloader/internal/config"
	"github.com/cuongbtq/hls-downloader/internal/downloader"
	"github.com/cuongbtq/hls-downloader/internal/downloader/archive"
	"github.com/cuongbtq/hls-downloader/internal/events"
	"github.com/cuongbtq/hls-downloader/internal/ws"
	"github.com/cuongbtq/hls-downloader/shared/logger"
	"github.com/cuongbtq/hls-downloader/shared/postgresql"
	"github.com/cuongbtq/hls-downloader/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
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
	defaultConfigPath := os.Getenv("DOWNLOADER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/downloader-service/config.yaml"
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

	appLogger.Info("Starting downloader service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize the optional PostgreSQL job archive
	var dbClient *postgresql.Client
	var recorder downloader.Recorder
	if cfg.Database.Enabled {
		dbClient, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}

		jobArchive := archive.NewStorage(dbClient, appLogger.Logger)
		schemaCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = jobArchive.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to prepare job archive: %w", err)
		}
		recorder = jobArchive

		appLogger.Info("Job archive enabled",
			slog.String("host", cfg.Database.Host),
			slog.String("database", cfg.Database.Database),
		)
	}

	// Initialize the optional RabbitMQ event publisher
	var rabbitClient *rabbitmq.Client
	var publisher downloader.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		publisher = events.NewPublisher(rabbitClient, appLogger.Logger)

		appLogger.Info("Job event publishing enabled",
			slog.String("exchange", cfg.RabbitMQ.Exchange.Name),
		)
	}

	// Start the WebSocket progress hub
	hub := ws.NewHub(appLogger.Logger)
	hub.Start()

	// Initialize the download orchestration service
	svc := downloader.New(downloader.Config{
		BaseDir:          cfg.Downloader.BaseDir,
		FFmpegPath:       cfg.Downloader.FFmpegPath,
		JobTimeout:       cfg.Downloader.JobTimeout,
		TerminationGrace: cfg.Downloader.TerminationGrace,
		ReaperInterval:   cfg.Downloader.Reaper.Interval,
		ReaperRetention:  cfg.Downloader.Reaper.Retention,
	}, downloader.Deps{
		Logger:      appLogger.Logger,
		Recorder:    recorder,
		Publisher:   publisher,
		Broadcaster: hub,
	})

	// Warn early when ffmpeg is missing; jobs will be rejected until it
	// becomes available.
	toolCtx, toolCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.ToolCheck(toolCtx); err != nil {
		appLogger.Warn("ffmpeg is not available", slog.Any("error", err))
	}
	toolCancel()

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, svc, hub)

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

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Downloader service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	// Stop in-flight downloads; their working directories are removed as
	// each runner unwinds.
	if err := svc.Shutdown(ctx); err != nil {
		appLogger.Error("Jobs did not stop in time",
			slog.Any("error", err),
		)
		return err
	}

	hub.Stop()

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
	}

	return logger.New(loggerCfg)
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
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, svc *downloader.Service, hub *ws.Hub) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:     logger,
		Service:    svc,
		Hub:        hub,
		AppName:    cfg.App.Name,
		AppVersion: cfg.App.Version,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
