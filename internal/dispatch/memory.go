package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cuongbtq/imageflow/internal/domain"
)

// ErrQueueClosed is returned by publish paths after Close.
var ErrQueueClosed = errors.New("queue is closed")

// MemoryQueue is a channel-backed Queue for tests and single-process
// development. FIFO within one instance; Nack with requeue re-enters at the
// tail, matching broker redelivery semantics closely enough for the
// pipeline's contracts.
type MemoryQueue struct {
	mu     sync.Mutex
	ch     chan []byte
	done   chan struct{}
	closed bool
}

// NewMemoryQueue creates a MemoryQueue with the given buffer capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryQueue{
		ch:   make(chan []byte, capacity),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}
	return q.publish(ctx, body)
}

// publish never sends on a closed channel: q.ch is only drained, never
// closed, and Close is signalled through q.done so a sender parked on a
// full buffer unblocks with an error instead of panicking.
func (q *MemoryQueue) publish(ctx context.Context, body []byte) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- body:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.done:
				return
			case body := <-q.ch:
				select {
				case out <- &memoryDelivery{queue: q, ctx: ctx, body: body}:
				case <-ctx.Done():
					// Put the message back so it is not lost on shutdown.
					select {
					case q.ch <- body:
					default:
					}
					return
				case <-q.done:
					return
				}
			}
		}
	}()

	return out, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// Len reports the number of buffered messages. Test helper.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

type memoryDelivery struct {
	queue *MemoryQueue
	ctx   context.Context
	body  []byte
}

func (d *memoryDelivery) Body() []byte {
	return d.body
}

func (d *memoryDelivery) Ack() error {
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	if !requeue {
		return nil
	}
	return d.queue.publish(d.ctx, d.body)
}
