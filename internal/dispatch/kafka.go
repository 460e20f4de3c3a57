package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/cuongbtq/imageflow/internal/domain"
)

// KafkaQueue implements Queue on a Kafka topic with a consumer group. The
// job id keys each message so retries of the same job land on the same
// partition. Nack with requeue re-publishes to the tail and commits the
// original offset, which matches the pipeline's advisory FIFO contract.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *slog.Logger
}

// KafkaConfig holds broker and topic settings for the dispatch topic.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewKafkaQueue creates a writer and a consumer-group reader on the
// configured topic.
func NewKafkaQueue(cfg *KafkaConfig, logger *slog.Logger) *KafkaQueue {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	return &KafkaQueue{
		writer: writer,
		reader: reader,
		logger: logger,
	}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, jobID string) error {
	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	err = q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(jobID),
		Value: body,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}

	q.logger.Debug("Job enqueued",
		slog.String("job_id", jobID),
	)
	return nil
}

func (q *KafkaQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			msg, err := q.reader.FetchMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return
				}
				q.logger.Error("Failed to fetch message from Kafka",
					slog.Any("error", err),
				)
				return
			}

			select {
			case out <- &kafkaDelivery{queue: q, msg: msg}:
			case <-ctx.Done():
				// Uncommitted; the group redelivers it after rebalance.
				return
			}
		}
	}()

	return out, nil
}

func (q *KafkaQueue) Close() error {
	if err := q.reader.Close(); err != nil {
		return err
	}
	return q.writer.Close()
}

type kafkaDelivery struct {
	queue *KafkaQueue
	msg   kafka.Message
}

func (d *kafkaDelivery) Body() []byte {
	return d.msg.Value
}

func (d *kafkaDelivery) Ack() error {
	return d.queue.reader.CommitMessages(context.Background(), d.msg)
}

func (d *kafkaDelivery) Nack(requeue bool) error {
	if requeue {
		// Kafka has no broker-side requeue; re-publish to the tail before
		// committing the original offset.
		err := d.queue.writer.WriteMessages(context.Background(), kafka.Message{
			Key:   d.msg.Key,
			Value: d.msg.Value,
		})
		if err != nil {
			return fmt.Errorf("failed to requeue message: %w", err)
		}
	}
	return d.queue.reader.CommitMessages(context.Background(), d.msg)
}
