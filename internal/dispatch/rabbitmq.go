package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/imageflow/internal/domain"
	"github.com/cuongbtq/imageflow/shared/rabbitmq"
)

// RabbitQueue implements Queue on RabbitMQ. Publishes are persistent and
// retried with exponential backoff; consumption uses manual acknowledgment
// with a bounded prefetch so a slow worker cannot hoard deliveries.
type RabbitQueue struct {
	client      *rabbitmq.Client
	logger      *slog.Logger
	prefetch    int
	consumerTag string
}

// NewRabbitQueue wraps an established RabbitMQ client.
func NewRabbitQueue(client *rabbitmq.Client, prefetch int, consumerTag string, logger *slog.Logger) *RabbitQueue {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &RabbitQueue{
		client:      client,
		logger:      logger,
		prefetch:    prefetch,
		consumerTag: consumerTag,
	}
}

func (q *RabbitQueue) Enqueue(ctx context.Context, jobID string) error {
	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	q.logger.Debug("Job enqueued",
		slog.String("job_id", jobID),
	)
	return nil
}

func (q *RabbitQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	// Prefetch bounds unacknowledged deliveries per consumer.
	if err := q.client.Qos(q.prefetch); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	q.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", q.prefetch),
	)

	deliveries, err := q.client.Consume(q.consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					q.logger.Warn("RabbitMQ delivery channel closed")
					return
				}
				select {
				case out <- &amqpDelivery{d: d}:
				case <-ctx.Done():
					// Redeliver messages caught mid-shutdown.
					if nackErr := d.Nack(false, true); nackErr != nil {
						q.logger.Error("Failed to NACK message on shutdown",
							slog.Any("error", nackErr),
						)
					}
					return
				}
			}
		}
	}()

	return out, nil
}

func (q *RabbitQueue) Close() error {
	return q.client.Close()
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (d *amqpDelivery) Body() []byte {
	return d.d.Body
}

func (d *amqpDelivery) Ack() error {
	return d.d.Ack(false)
}

func (d *amqpDelivery) Nack(requeue bool) error {
	return d.d.Nack(false, requeue)
}
