package dispatch

import "context"

// Queue is the ordered, at-least-once delivery channel carrying job ids from
// submitters to the worker pool. Delivery is not exactly-once: consumers must
// claim a job in the job store before doing any work, and abandon silently
// when the claim is lost.
type Queue interface {
	// Enqueue publishes a job id. Called once per job at creation and once
	// per retryable failure.
	Enqueue(ctx context.Context, jobID string) error

	// Consume returns a channel of deliveries. The channel closes when ctx
	// is canceled or the underlying transport shuts down.
	Consume(ctx context.Context) (<-chan Delivery, error)

	// Close releases transport resources.
	Close() error
}

// Delivery is one message pulled from the queue. Exactly one of Ack or Nack
// must be called per delivery; an unacknowledged delivery is redelivered
// when its consumer dies.
type Delivery interface {
	// Body returns the raw message payload.
	Body() []byte

	// Ack marks the delivery as processed.
	Ack() error

	// Nack rejects the delivery, optionally putting it back on the queue.
	Nack(requeue bool) error
}
