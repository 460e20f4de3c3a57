package jobstore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/imageflow/internal/domain"
)

type recordingEnqueuer struct {
	mu      sync.Mutex
	jobIDs  []string
	failErr error
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, jobID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failErr != nil {
		return e.failErr
	}
	e.jobIDs = append(e.jobIDs, jobID)
	return nil
}

func (e *recordingEnqueuer) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobIDs)
}

func newTestJob(maxAttempts int) *domain.Job {
	return &domain.Job{
		JobID:       uuid.New().String(),
		AssetID:     uuid.New().String(),
		Operation:   domain.OpResize,
		Parameters:  domain.Params{Width: 100, Height: 100},
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
	}
}

func TestMemoryStore_Create(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	job := newTestJob(3)
	require.NoError(t, store.Create(ctx, job))
	assert.Equal(t, domain.StateQueued, job.State)

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, got.State)
	assert.Equal(t, 0, got.Attempts)

	// Same id again must be rejected.
	err = store.Create(ctx, job)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	store := NewMemoryStore(nil)

	_, err := store.Get(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_TryClaim(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	job := newTestJob(3)
	require.NoError(t, store.Create(ctx, job))

	claimed, err := store.TryClaim(ctx, job.JobID, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, claimed.State)
	assert.Equal(t, "worker-a", claimed.WorkerToken)
	assert.Equal(t, 1, claimed.Attempts)
	assert.NotNil(t, claimed.StartedAt)

	// A second claim on a RUNNING job must lose.
	_, err = store.TryClaim(ctx, job.JobID, "worker-b")
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)

	_, err = store.TryClaim(ctx, uuid.New().String(), "worker-a")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_TryClaim_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	job := newTestJob(3)
	require.NoError(t, store.Create(ctx, job))

	const contenders = 32

	var wg sync.WaitGroup
	var winners int64
	var mu sync.Mutex

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.TryClaim(ctx, job.JobID, fmt.Sprintf("worker-%d", i))
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners, "exactly one contender may claim the job")

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}

func TestMemoryStore_Complete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	job := newTestJob(3)
	require.NoError(t, store.Create(ctx, job))

	// Completing a QUEUED job is an invalid transition.
	err := store.Complete(ctx, job.JobID, "processed/x.jpg")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = store.TryClaim(ctx, job.JobID, "worker-a")
	require.NoError(t, err)

	require.NoError(t, store.Complete(ctx, job.JobID, "processed/x.jpg"))

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSucceeded, got.State)
	assert.Equal(t, "processed/x.jpg", got.ResultRef)
	assert.Nil(t, got.Error)
	assert.NotNil(t, got.FinishedAt)

	// A stale worker's delayed write must bounce off the terminal state.
	err = store.Complete(ctx, job.JobID, "processed/stale.jpg")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err = store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "processed/x.jpg", got.ResultRef)
}

func TestMemoryStore_Fail_NonRetryable(t *testing.T) {
	ctx := context.Background()
	enq := &recordingEnqueuer{}
	store := NewMemoryStore(enq)

	job := newTestJob(3)
	require.NoError(t, store.Create(ctx, job))
	_, err := store.TryClaim(ctx, job.JobID, "worker-a")
	require.NoError(t, err)

	requeued, err := store.Fail(ctx, job.JobID, domain.ErrorInfo{
		Code:    domain.ErrCodeAssetUnavailable,
		Message: "asset gone",
	}, false)
	require.NoError(t, err)
	assert.False(t, requeued)
	assert.Equal(t, 0, enq.count())

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrCodeAssetUnavailable, got.Error.Code)
	assert.Empty(t, got.ResultRef)
}

func TestMemoryStore_Fail_RetryableUntilAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	enq := &recordingEnqueuer{}
	store := NewMemoryStore(enq)

	const maxAttempts = 3

	job := newTestJob(maxAttempts)
	require.NoError(t, store.Create(ctx, job))

	cause := domain.ErrorInfo{Code: domain.ErrCodeTransformFailed, Message: "boom"}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		claimed, err := store.TryClaim(ctx, job.JobID, "worker-a")
		require.NoError(t, err)
		assert.Equal(t, attempt, claimed.Attempts)

		requeued, err := store.Fail(ctx, job.JobID, cause, true)
		require.NoError(t, err)

		if attempt < maxAttempts {
			assert.True(t, requeued, "attempt %d should re-queue", attempt)

			got, err := store.Get(ctx, job.JobID)
			require.NoError(t, err)
			assert.Equal(t, domain.StateQueued, got.State)
			assert.Nil(t, got.Error)
		} else {
			assert.False(t, requeued, "final attempt must go terminal")
		}
	}

	got, err := store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, maxAttempts, got.Attempts)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrCodeTransformFailed, got.Error.Code)

	// One re-enqueue per non-final retryable failure.
	assert.Equal(t, maxAttempts-1, enq.count())
}

func TestMemoryStore_Fail_OnNonRunningJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	job := newTestJob(3)
	require.NoError(t, store.Create(ctx, job))

	_, err := store.Fail(ctx, job.JobID, domain.ErrorInfo{Code: domain.ErrCodeTransformFailed}, false)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = store.Fail(ctx, uuid.New().String(), domain.ErrorInfo{Code: domain.ErrCodeTransformFailed}, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_RequestCancel(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	job := newTestJob(3)
	require.NoError(t, store.Create(ctx, job))

	got, err := store.RequestCancel(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, domain.StateQueued, got.State, "cancel is a flag, not a transition")

	// Cancel on a RUNNING job is still allowed.
	_, err = store.TryClaim(ctx, job.JobID, "worker-a")
	require.NoError(t, err)
	_, err = store.RequestCancel(ctx, job.JobID)
	require.NoError(t, err)

	// Terminal jobs reject the flag.
	require.NoError(t, store.Complete(ctx, job.JobID, "processed/x.jpg"))
	_, err = store.RequestCancel(ctx, job.JobID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestMemoryStore_ListOrphaned(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	base := time.Now()
	store.now = func() time.Time { return base }

	stale := newTestJob(3)
	stale.CreatedAt = base.Add(-10 * time.Minute)
	require.NoError(t, store.Create(ctx, stale))

	fresh := newTestJob(3)
	fresh.CreatedAt = base
	require.NoError(t, store.Create(ctx, fresh))

	running := newTestJob(3)
	running.CreatedAt = base.Add(-10 * time.Minute)
	require.NoError(t, store.Create(ctx, running))
	_, err := store.TryClaim(ctx, running.JobID, "worker-a")
	require.NoError(t, err)

	cutoff := base.Add(-5 * time.Minute)
	orphans, err := store.ListOrphaned(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, stale.JobID, orphans[0].JobID)

	// Once marked, the orphan is not reported again.
	require.NoError(t, store.MarkRequeued(ctx, stale.JobID))
	orphans, err = store.ListOrphaned(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, orphans)

	got, err := store.Get(ctx, stale.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Requeues)
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	base := time.Now()
	assetID := uuid.New().String()

	var ids []string
	for i := 0; i < 5; i++ {
		job := newTestJob(3)
		job.AssetID = assetID
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Create(ctx, job))
		ids = append(ids, job.JobID)
	}

	other := newTestJob(3)
	other.CreatedAt = base.Add(time.Hour)
	require.NoError(t, store.Create(ctx, other))

	// Newest first, filtered by asset, one extra row signals more pages.
	page, err := store.List(ctx, JobFilter{AssetID: assetID, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[4], page[0].JobID)
	assert.Equal(t, ids[3], page[1].JobID)

	cursor := &JobCursor{CreatedAt: page[1].CreatedAt, JobID: page[1].JobID}
	rest, err := store.List(ctx, JobFilter{AssetID: assetID, PageSize: 10, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, ids[2], rest[0].JobID)
	assert.Equal(t, ids[0], rest[2].JobID)
}

func TestMemoryStore_Assets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)

	asset := &domain.Asset{
		AssetID:     uuid.New().String(),
		StorageRef:  "original/abc",
		SizeBytes:   1024,
		ContentType: "image/jpeg",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.CreateAsset(ctx, asset))

	got, err := store.GetAsset(ctx, asset.AssetID)
	require.NoError(t, err)
	assert.Equal(t, asset.StorageRef, got.StorageRef)

	err = store.CreateAsset(ctx, asset)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	require.NoError(t, store.DeleteAsset(ctx, asset.AssetID))
	_, err = store.GetAsset(ctx, asset.AssetID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
