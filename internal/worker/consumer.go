package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cuongbtq/imageflow/internal/dispatch"
	"github.com/cuongbtq/imageflow/internal/domain"
)

// runDispatcher reads the delivery stream, parses job messages and hands
// them to the worker pool. Malformed messages are rejected without requeue
// so they cannot poison the queue.
func (w *Worker) runDispatcher(ctx context.Context, deliveries <-chan dispatch.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - worker stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Delivery channel closed")
				return
			}

			var msg domain.JobMessage
			if err := json.Unmarshal(delivery.Body(), &msg); err != nil {
				w.logger.Error("Failed to parse message JSON",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body())),
				)
				if nackErr := delivery.Nack(false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				w.logger.Error("Invalid job_id format - not a UUID",
					slog.String("job_id", msg.JobID),
					slog.Any("error", err),
				)
				if nackErr := delivery.Nack(false); nackErr != nil {
					w.logger.Error("Failed to NACK message with invalid job_id",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			select {
			case w.jobsChan <- &jobDelivery{msg: msg, delivery: delivery}:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				// Requeue so the job is not lost on shutdown.
				if nackErr := delivery.Nack(true); nackErr != nil {
					w.logger.Error("Failed to NACK message on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}
