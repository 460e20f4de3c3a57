package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/imageflow/internal/artifact"
	"github.com/cuongbtq/imageflow/internal/config"
	"github.com/cuongbtq/imageflow/internal/dispatch"
	"github.com/cuongbtq/imageflow/internal/jobstore"
	"github.com/cuongbtq/imageflow/internal/transform"
	"github.com/cuongbtq/imageflow/internal/worker"
	"github.com/cuongbtq/imageflow/shared/logger"
	"github.com/cuongbtq/imageflow/shared/postgresql"
	"github.com/cuongbtq/imageflow/shared/rabbitmq"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
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

	store := jobstore.NewPostgresStore(dbClient, queue, appLogger.Logger)

	w := worker.NewWorker(&worker.Config{
		Logger:      appLogger.Logger,
		Store:       store,
		Queue:       queue,
		Artifacts:   artifacts,
		Engine:      transform.NewEngine(),
		Concurrency: cfg.Worker.Concurrency,
		JobTimeout:  cfg.Worker.JobTimeout,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := w.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service is running",
		slog.String("worker_id", w.WorkerID()),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	// Wait for interrupt signal or a consumer failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutdown signal received")
	case err := <-errChan:
		appLogger.Error("Worker stopped unexpectedly",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Shutting down worker...")

	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}

	select {
	case <-done:
		appLogger.Info("Worker shutdown complete")
	case <-time.After(shutdownTimeout):
		appLogger.Warn("Worker shutdown timed out, in-flight jobs will be redelivered")
	}

	return nil
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
