package statuscache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cuongbtq/imageflow/internal/domain"
	"github.com/cuongbtq/imageflow/shared/redis"
)

const keyPrefix = "job:terminal:"

// Cache is a read-through cache for terminal job records. Terminal states
// never change, so cached entries can only go stale by expiry, never by
// mutation. Cache failures degrade to store reads and are never surfaced.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

// New creates a Cache over an established Redis client.
func New(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Get returns the cached job, or nil on a miss.
func (c *Cache) Get(ctx context.Context, jobID string) *domain.Job {
	raw, err := c.client.Get(ctx, keyPrefix+jobID)
	if err != nil {
		if !redis.IsNil(err) {
			c.logger.Warn("Status cache read failed",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
		return nil
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		c.logger.Warn("Status cache entry malformed, dropping",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		_ = c.client.Del(ctx, keyPrefix+jobID)
		return nil
	}
	return &job
}

// Put caches a terminal job record. Non-terminal jobs are ignored.
func (c *Cache) Put(ctx context.Context, job *domain.Job) {
	if job == nil || !job.Terminal() {
		return
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, keyPrefix+job.JobID, raw, c.ttl); err != nil {
		c.logger.Warn("Status cache write failed",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}
}
