package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/imageflow/internal/artifact"
	"github.com/cuongbtq/imageflow/internal/dispatch"
	"github.com/cuongbtq/imageflow/internal/domain"
	"github.com/cuongbtq/imageflow/internal/jobstore"
	"github.com/cuongbtq/imageflow/internal/statuscache"
)

// Config holds coordinator dependencies and policy knobs.
type Config struct {
	Logger      *slog.Logger
	Store       jobstore.Store
	Queue       dispatch.Queue
	Artifacts   artifact.Store
	StatusCache *statuscache.Cache // optional
	MaxAttempts int
	StaleAfter  time.Duration
	SweepLimit  int
}

// Coordinator is the orchestration logic living in the API process. It
// validates requests, creates job records, enqueues work, and serves
// status and result lookups. It never blocks on worker activity.
type Coordinator struct {
	logger      *slog.Logger
	store       jobstore.Store
	queue       dispatch.Queue
	artifacts   artifact.Store
	cache       *statuscache.Cache
	maxAttempts int
	staleAfter  time.Duration
	sweepLimit  int
}

// New creates a Coordinator.
func New(cfg *Config) *Coordinator {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	sweepLimit := cfg.SweepLimit
	if sweepLimit <= 0 {
		sweepLimit = 100
	}

	return &Coordinator{
		logger:      cfg.Logger,
		store:       cfg.Store,
		queue:       cfg.Queue,
		artifacts:   cfg.Artifacts,
		cache:       cfg.StatusCache,
		maxAttempts: maxAttempts,
		staleAfter:  staleAfter,
		sweepLimit:  sweepLimit,
	}
}

// UploadAsset stores raw image bytes and records immutable upload metadata.
func (c *Coordinator) UploadAsset(ctx context.Context, data []byte, contentType string) (*domain.Asset, error) {
	asset := &domain.Asset{
		AssetID:     uuid.New().String(),
		SizeBytes:   int64(len(data)),
		ContentType: contentType,
		CreatedAt:   time.Now().UTC(),
	}
	asset.StorageRef = fmt.Sprintf("original/%s", asset.AssetID)

	if err := c.artifacts.Put(ctx, asset.StorageRef, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	if err := c.store.CreateAsset(ctx, asset); err != nil {
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	c.logger.Info("Asset uploaded",
		slog.String("asset_id", asset.AssetID),
		slog.Int64("size_bytes", asset.SizeBytes),
		slog.String("content_type", contentType),
	)

	return asset, nil
}

// GetAsset returns upload metadata.
func (c *Coordinator) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	return c.store.GetAsset(ctx, assetID)
}

// SubmitJob validates the request and creates a QUEUED job, then enqueues
// it. Validation failures leave no partial state behind. If enqueue fails
// after creation the job stays QUEUED and the reconciliation sweep
// re-enqueues it after the staleness window.
func (c *Coordinator) SubmitJob(ctx context.Context, assetID, operation string, params domain.Params) (*domain.Job, error) {
	if !domain.KnownOperation(operation) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidOperation, operation)
	}
	if err := domain.ValidateParams(operation, params); err != nil {
		return nil, err
	}

	// The source asset must exist at creation time.
	if _, err := c.store.GetAsset(ctx, assetID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("asset %s: %w", assetID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to verify asset: %w", err)
	}

	job := &domain.Job{
		JobID:       uuid.New().String(),
		AssetID:     assetID,
		Operation:   operation,
		Parameters:  params,
		MaxAttempts: c.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}

	if err := c.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := c.queue.Enqueue(ctx, job.JobID); err != nil {
		c.logger.Error("Failed to enqueue job, leaving QUEUED for sweep",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}

	c.logger.Info("Job submitted",
		slog.String("job_id", job.JobID),
		slog.String("asset_id", assetID),
		slog.String("operation", operation),
	)

	return job, nil
}

// GetStatus returns the job record. Terminal records are served from the
// status cache when one is configured; everything else is a pure store read.
func (c *Coordinator) GetStatus(ctx context.Context, jobID string) (*domain.Job, error) {
	if c.cache != nil {
		if job := c.cache.Get(ctx, jobID); job != nil {
			return job, nil
		}
	}

	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Put(ctx, job)
	}
	return job, nil
}

// GetResult returns the processed bytes for a succeeded job. It returns
// domain.ErrNotReady while the job is QUEUED or RUNNING and a
// domain.JobFailedError carrying the recorded cause when it failed.
func (c *Coordinator) GetResult(ctx context.Context, jobID string) ([]byte, error) {
	job, err := c.GetStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.State {
	case domain.StateQueued, domain.StateRunning:
		return nil, domain.ErrNotReady
	case domain.StateFailed:
		info := domain.ErrorInfo{Code: "unknown", Message: "no failure cause recorded"}
		if job.Error != nil {
			info = *job.Error
		}
		return nil, &domain.JobFailedError{Info: info}
	}

	data, err := c.artifacts.Get(ctx, job.ResultRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load result for job %s: %w", jobID, err)
	}
	return data, nil
}

// RequestCancel sets the cancellation flag. Cancellation is cooperative:
// the flag is observed by a worker at its next safe checkpoint, and a
// worker already inside a transform runs to completion.
func (c *Coordinator) RequestCancel(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := c.store.RequestCancel(ctx, jobID)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Job cancellation requested",
		slog.String("job_id", jobID),
		slog.String("state", job.State),
	)
	return job, nil
}

// ListJobs returns a page of jobs matching the filter.
func (c *Coordinator) ListJobs(ctx context.Context, filter jobstore.JobFilter) ([]*domain.Job, error) {
	return c.store.List(ctx, filter)
}

// RunSweep re-enqueues QUEUED jobs whose enqueue was lost, each exactly
// once. Returns the number of jobs re-enqueued.
func (c *Coordinator) RunSweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-c.staleAfter)

	orphans, err := c.store.ListOrphaned(ctx, cutoff, c.sweepLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list orphaned jobs: %w", err)
	}

	requeued := 0
	for _, job := range orphans {
		if err := c.store.MarkRequeued(ctx, job.JobID); err != nil {
			c.logger.Error("Failed to mark job requeued",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			continue
		}
		if err := c.queue.Enqueue(ctx, job.JobID); err != nil {
			c.logger.Error("Failed to re-enqueue orphaned job",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		c.logger.Info("Reconciliation sweep re-enqueued orphaned jobs",
			slog.Int("count", requeued),
		)
	}
	return requeued, nil
}

// SweepLoop runs RunSweep on the given interval until ctx is canceled.
func (c *Coordinator) SweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Reconciliation sweep stopped")
			return
		case <-ticker.C:
			if _, err := c.RunSweep(ctx); err != nil {
				c.logger.Error("Reconciliation sweep failed",
					slog.Any("error", err),
				)
			}
		}
	}
}
