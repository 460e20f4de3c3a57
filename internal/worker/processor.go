package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/imageflow/internal/domain"
)

// processJob runs the per-iteration protocol for one delivery: claim,
// cancel checkpoint, fetch source bytes, transform, store output, record
// terminal state. A nil return means the job settled in the store and the
// delivery must be acknowledged; a non-nil return feeds the pool's
// requeue decision.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	// Step 1: claim the job (QUEUED -> RUNNING). The queue is at-least-once,
	// so a lost claim means another worker owns this job: abandon silently.
	job, err := w.store.TryClaim(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) || errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("Abandoning delivery - claim lost",
				slog.String("job_id", msg.JobID),
				slog.Any("error", err),
			)
			return fmt.Errorf("claim lost for job %s: %w", msg.JobID, err)
		}
		// Store unreachable: redeliver so another iteration can claim.
		return domain.NewRetryableError(fmt.Errorf("failed to claim job %s: %w", msg.JobID, err))
	}

	// Step 2: cancellation checkpoint, observed before any transform work.
	if job.CancelRequested {
		w.logger.Info("Job canceled before execution",
			slog.String("job_id", job.JobID),
		)
		return w.failJob(ctx, job.JobID, domain.ErrorInfo{
			Code:    domain.ErrCodeCanceled,
			Message: "canceled before execution",
		}, false)
	}

	// Step 3: fetch the source bytes. A missing asset is fatal for the job,
	// not retryable - the asset is gone.
	src, err := w.loadAsset(ctx, job)
	if err != nil {
		w.logger.Warn("Source asset unavailable",
			slog.String("job_id", job.JobID),
			slog.String("asset_id", job.AssetID),
			slog.Any("error", err),
		)
		return w.failJob(ctx, job.JobID, domain.ErrorInfo{
			Code:    domain.ErrCodeAssetUnavailable,
			Message: err.Error(),
		}, false)
	}

	// Step 4: re-validate parameters (defense in depth) and run the engine.
	if err := domain.ValidateParams(job.Operation, job.Parameters); err != nil {
		return w.failJob(ctx, job.JobID, domain.ErrorInfo{
			Code:    domain.ErrCodeInvalidParams,
			Message: err.Error(),
		}, false)
	}

	jobCtx := ctx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
		defer cancel()
	}

	output, err := w.engine.Apply(jobCtx, src, job.Operation, job.Parameters)
	if err != nil {
		info, retryable := classifyTransformError(err)
		w.logger.Error("Transform failed",
			slog.String("job_id", job.JobID),
			slog.String("operation", job.Operation),
			slog.Bool("retryable", retryable),
			slog.Any("error", err),
		)
		return w.failJob(ctx, job.JobID, info, retryable)
	}

	// Step 5: store the output and mark the job complete. Artifact writes
	// are idempotent overwrites, so a retry re-producing the same ref is safe.
	resultRef := fmt.Sprintf("processed/%s.jpg", job.JobID)
	if err := w.artifacts.Put(ctx, resultRef, output, "image/jpeg"); err != nil {
		w.logger.Error("Failed to store result",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
		return w.failJob(ctx, job.JobID, domain.ErrorInfo{
			Code:    domain.ErrCodeTransformFailed,
			Message: fmt.Sprintf("failed to store result: %s", err),
		}, true)
	}

	if err := w.store.Complete(ctx, job.JobID, resultRef); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			// Stale write guard: another attempt already settled this job.
			// Never overwrite the newer state.
			w.logger.Warn("Completion rejected - job already settled elsewhere",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to complete job %s: %w", job.JobID, err))
	}

	w.logger.Info("Job completed successfully",
		slog.String("job_id", job.JobID),
		slog.String("operation", job.Operation),
		slog.String("result_ref", resultRef),
		slog.Int("attempts", job.Attempts),
	)

	return nil
}

// loadAsset resolves the job's asset metadata and reads the source bytes.
func (w *Worker) loadAsset(ctx context.Context, job *domain.Job) ([]byte, error) {
	asset, err := w.store.GetAsset(ctx, job.AssetID)
	if err != nil {
		return nil, fmt.Errorf("asset metadata missing: %w", err)
	}

	src, err := w.artifacts.Get(ctx, asset.StorageRef)
	if err != nil {
		return nil, fmt.Errorf("asset bytes missing: %w", err)
	}
	return src, nil
}

// failJob records a failure outcome, tolerating the race guards: a job
// already settled by another attempt is logged and swallowed.
func (w *Worker) failJob(ctx context.Context, jobID string, cause domain.ErrorInfo, retryable bool) error {
	requeued, err := w.store.Fail(ctx, jobID, cause, retryable)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("Failure write rejected - job already settled elsewhere",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to record failure for job %s: %w", jobID, err))
	}

	if requeued {
		w.logger.Info("Job re-queued for retry",
			slog.String("job_id", jobID),
			slog.String("error_code", cause.Code),
		)
	}
	return nil
}

// classifyTransformError maps an engine error to a recorded cause and a
// retry decision.
func classifyTransformError(err error) (domain.ErrorInfo, bool) {
	var transformErr *domain.TransformError
	if errors.As(err, &transformErr) {
		return domain.ErrorInfo{
			Code:    transformErr.Code,
			Message: transformErr.Err.Error(),
		}, transformErr.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorInfo{
			Code:    domain.ErrCodeTransformFailed,
			Message: "transform exceeded job timeout",
		}, true
	}

	return domain.ErrorInfo{
		Code:    domain.ErrCodeTransformFailed,
		Message: err.Error(),
	}, false
}
