package jobstore

import (
	"context"
	"time"

	"github.com/cuongbtq/imageflow/internal/domain"
)

// Enqueuer publishes a job id back onto the dispatch queue. The store holds
// one so that every re-enqueue after a retryable failure goes through a
// single code path instead of being scattered across workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Store is the single source of truth for job and asset metadata. All job
// mutation goes through the atomic operations below; callers never
// read-modify-write a record through separate get and set calls.
type Store interface {
	// Create inserts a new job in state QUEUED with zero attempts.
	// Returns domain.ErrDuplicateID on a job id collision.
	Create(ctx context.Context, job *domain.Job) error

	// Get returns the job or domain.ErrNotFound.
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// TryClaim atomically transitions QUEUED -> RUNNING, increments attempts
	// and records startedAt, only if the job is currently QUEUED. This is the
	// sole admission point preventing duplicate execution. Returns
	// domain.ErrAlreadyClaimed when the job is in any other state and
	// domain.ErrNotFound when it does not exist.
	TryClaim(ctx context.Context, jobID, workerToken string) (*domain.Job, error)

	// Complete atomically transitions RUNNING -> SUCCEEDED and sets the
	// result reference. Returns domain.ErrInvalidTransition when the job is
	// not RUNNING, which guards a crashed worker's delayed write.
	Complete(ctx context.Context, jobID, resultRef string) error

	// Fail transitions RUNNING -> QUEUED when retryable and attempts remain,
	// otherwise RUNNING -> FAILED with cause recorded. When the job is
	// re-queued the store publishes it through its Enqueuer. The returned
	// bool reports whether the job was re-queued.
	Fail(ctx context.Context, jobID string, cause domain.ErrorInfo, retryable bool) (bool, error)

	// RequestCancel sets the cancellation flag on a non-terminal job.
	// Returns domain.ErrInvalidTransition for terminal jobs.
	RequestCancel(ctx context.Context, jobID string) (*domain.Job, error)

	// ListOrphaned returns QUEUED jobs that have not been touched since
	// cutoff and have never been swept, oldest first.
	ListOrphaned(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error)

	// MarkRequeued records that the reconciliation sweep re-enqueued the
	// job, so each orphan is swept exactly once.
	MarkRequeued(ctx context.Context, jobID string) error

	// List returns jobs matching the filter, newest first, using keyset
	// pagination. One extra row past the page size signals more results.
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, error)

	// CreateAsset inserts upload metadata. The record is immutable.
	CreateAsset(ctx context.Context, asset *domain.Asset) error

	// GetAsset returns asset metadata or domain.ErrNotFound.
	GetAsset(ctx context.Context, assetID string) (*domain.Asset, error)
}

// JobFilter narrows List results.
type JobFilter struct {
	AssetID   string
	Operation string
	State     string
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor marks a keyset pagination position.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}
