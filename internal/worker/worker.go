package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/imageflow/internal/artifact"
	"github.com/cuongbtq/imageflow/internal/dispatch"
	"github.com/cuongbtq/imageflow/internal/domain"
	"github.com/cuongbtq/imageflow/internal/jobstore"
	"github.com/cuongbtq/imageflow/internal/transform"
)

// Config holds worker configuration
type Config struct {
	Logger      *slog.Logger
	Store       jobstore.Store
	Queue       dispatch.Queue
	Artifacts   artifact.Store
	Engine      *transform.Engine
	Concurrency int
	JobTimeout  time.Duration
}

// Worker consumes the dispatch queue with a fixed-size pool of goroutines.
// Each goroutine runs the loop: dequeue, claim, fetch asset, transform,
// store result, record terminal state. Workers are symmetric and stateless
// between iterations.
type Worker struct {
	logger      *slog.Logger
	store       jobstore.Store
	queue       dispatch.Queue
	artifacts   artifact.Store
	engine      *transform.Engine
	concurrency int
	jobTimeout  time.Duration
	workerID    string
	jobsChan    chan *jobDelivery
	wg          sync.WaitGroup
	stopChan    chan struct{}
}

// jobDelivery pairs a parsed job message with its queue delivery so the
// processing goroutine can acknowledge it after the job settles.
type jobDelivery struct {
	msg      domain.JobMessage
	delivery dispatch.Delivery
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	return &Worker{
		logger:      cfg.Logger,
		store:       cfg.Store,
		queue:       cfg.Queue,
		artifacts:   cfg.Artifacts,
		engine:      cfg.Engine,
		concurrency: concurrency,
		jobTimeout:  cfg.JobTimeout,
		workerID:    fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		jobsChan:    make(chan *jobDelivery),
		stopChan:    make(chan struct{}),
	}
}

// WorkerID returns the token this worker claims jobs with.
func (w *Worker) WorkerID() string {
	return w.workerID
}

// Start begins consuming and processing jobs. It blocks until ctx is
// canceled or the delivery stream ends.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.queue.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.runDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
