package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/imageflow/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case jd, ok := <-w.jobsChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", jd.msg.JobID),
			)

			err := w.processJob(ctx, &jd.msg)

			if err != nil {
				requeue := w.shouldRequeueDelivery(err)

				w.logger.Warn("Job iteration did not settle the job",
					slog.String("worker_name", workerName),
					slog.String("job_id", jd.msg.JobID),
					slog.Bool("requeue", requeue),
					slog.Any("error", err),
				)

				if nackErr := jd.delivery.Nack(requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", jd.msg.JobID),
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			// The job settled in the store: success, terminal failure, or
			// a re-enqueue already published by the store. Either way this
			// delivery is done.
			if ackErr := jd.delivery.Ack(); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", jd.msg.JobID),
					slog.Any("error", ackErr),
				)
			}
		}
	}
}

// shouldRequeueDelivery decides whether a failed iteration warrants a
// queue-level redelivery. Only transient infrastructure errors qualify;
// race-guard signals mean another worker owns the job and the delivery
// must be dropped.
func (w *Worker) shouldRequeueDelivery(err error) bool {
	if errors.Is(err, domain.ErrAlreadyClaimed) {
		return false
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		return false
	}

	var retryableErr *domain.RetryableError
	if errors.As(err, &retryableErr) {
		return true
	}

	// Default: don't requeue for unknown errors.
	return false
}
