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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/imageflow/internal/api/handler"
	"github.com/cuongbtq/imageflow/internal/api/router"
	"github.com/cuongbtq/imageflow/internal/artifact"
	"github.com/cuongbtq/imageflow/internal/config"
	"github.com/cuongbtq/imageflow/internal/coordinator"
	"github.com/cuongbtq/imageflow/internal/dispatch"
	"github.com/cuongbtq/imageflow/internal/jobstore"
	"github.com/cuongbtq/imageflow/internal/statuscache"
	"github.com/cuongbtq/imageflow/shared/logger"
	"github.com/cuongbtq/imageflow/shared/postgresql"
	"github.com/cuongbtq/imageflow/shared/rabbitmq"
	"github.com/cuongbtq/imageflow/shared/redis"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	queue, err := initQueue(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dispatch queue: %w", err)
	}
	defer queue.Close()

	appLogger.Info("Dispatch queue initialized",
		slog.String("driver", cfg.Queue.Driver),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	artifacts, err := artifact.NewMinioStore(ctx, &artifact.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	appLogger.Info("Artifact store initialized",
		slog.String("bucket", cfg.Storage.Bucket),
	)

	var cache *statuscache.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(&redis.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			PoolTimeout:  cfg.Redis.PoolTimeout,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisClient.Close()

		cache = statuscache.New(redisClient, cfg.Redis.TTL, appLogger.Logger)
		appLogger.Info("Status cache enabled",
			slog.String("addr", cfg.Redis.Addr),
		)
	}

	store := jobstore.NewPostgresStore(dbClient, queue, appLogger.Logger)

	coord := coordinator.New(&coordinator.Config{
		Logger:      appLogger.Logger,
		Store:       store,
		Queue:       queue,
		Artifacts:   artifacts,
		StatusCache: cache,
		MaxAttempts: cfg.Pipeline.MaxAttemptsOrDefault(),
		StaleAfter:  cfg.Pipeline.StaleAfter,
		SweepLimit:  cfg.Pipeline.SweepLimit,
	})

	// Background reconciliation sweep for orphaned QUEUED jobs.
	sweepInterval := cfg.Pipeline.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	go coord.SweepLoop(ctx, sweepInterval)

	r := initRouter(cfg, appLogger.Logger, coord)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	cancel() // stops the sweep loop

	if err := srv.Shutdown(shutdownCtx); err != nil {
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
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
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
	}, logger)
}

// initQueue selects and initializes the configured dispatch queue driver
func initQueue(cfg *config.Config, logger *slog.Logger) (dispatch.Queue, error) {
	switch cfg.Queue.Driver {
	case config.QueueDriverRabbitMQ:
		mq := &cfg.Queue.RabbitMQ
		client, err := rabbitmq.NewClient(&rabbitmq.Config{
			Host:               mq.Host,
			Port:               mq.Port,
			User:               mq.User,
			Password:           mq.Password,
			VHost:              mq.VHost,
			ExchangeName:       mq.Exchange.Name,
			ExchangeType:       mq.Exchange.Type,
			ExchangeDurable:    mq.Exchange.Durable,
			ExchangeAutoDelete: mq.Exchange.AutoDelete,
			QueueName:          mq.Queue.Name,
			QueueDurable:       mq.Queue.Durable,
			QueueAutoDelete:    mq.Queue.AutoDelete,
			QueueExclusive:     mq.Queue.Exclusive,
			RoutingKey:         mq.RoutingKey,
			RetryAttempts:      mq.Connection.RetryAttempts,
			RetryInterval:      mq.Connection.RetryInterval,
			Heartbeat:          mq.Connection.Heartbeat,
			ConnectionTimeout:  mq.Connection.ConnectionTimeout,
			PublishRetries:     mq.Publish.RetryAttempts,
			PublishRetryDelay:  mq.Publish.RetryInterval,
			PublishBackoffMult: mq.Publish.BackoffMultiplier,
		}, logger)
		if err != nil {
			return nil, err
		}
		return dispatch.NewRabbitQueue(client, mq.Consumer.PrefetchCount, cfg.App.Name, logger), nil

	case config.QueueDriverKafka:
		return dispatch.NewKafkaQueue(&dispatch.KafkaConfig{
			Brokers: cfg.Queue.Kafka.Brokers,
			Topic:   cfg.Queue.Kafka.Topic,
			GroupID: cfg.Queue.Kafka.GroupID,
		}, logger), nil

	case config.QueueDriverMemory:
		return dispatch.NewMemoryQueue(0), nil
	}

	return nil, fmt.Errorf("unknown queue driver: %q", cfg.Queue.Driver)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, coord *coordinator.Coordinator) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:         logger,
		Coordinator:    coord,
		MaxUploadBytes: cfg.Upload.MaxSizeBytes,
	})
}
