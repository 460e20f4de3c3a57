package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/imageflow/internal/artifact"
	"github.com/cuongbtq/imageflow/internal/dispatch"
	"github.com/cuongbtq/imageflow/internal/domain"
	"github.com/cuongbtq/imageflow/internal/jobstore"
	"github.com/cuongbtq/imageflow/internal/transform"
)

// flakyArtifacts wraps a memory store and fails the next N Put calls with a
// transient error. Simulates an object store outage during result writes.
type flakyArtifacts struct {
	*artifact.MemoryStore
	mu       sync.Mutex
	putFails int
}

func (f *flakyArtifacts) Put(ctx context.Context, ref string, data []byte, contentType string) error {
	f.mu.Lock()
	if f.putFails > 0 {
		f.putFails--
		f.mu.Unlock()
		return fmt.Errorf("storage temporarily unavailable")
	}
	f.mu.Unlock()
	return f.MemoryStore.Put(ctx, ref, data, contentType)
}

type workerFixture struct {
	worker    *Worker
	store     *jobstore.MemoryStore
	queue     *dispatch.MemoryQueue
	artifacts *flakyArtifacts
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	queue := dispatch.NewMemoryQueue(32)
	t.Cleanup(func() { queue.Close() })

	store := jobstore.NewMemoryStore(queue)
	artifacts := &flakyArtifacts{MemoryStore: artifact.NewMemoryStore()}

	w := NewWorker(&Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:       store,
		Queue:       queue,
		Artifacts:   artifacts,
		Engine:      transform.NewEngine(),
		Concurrency: 1,
		JobTimeout:  30 * time.Second,
	})

	return &workerFixture{worker: w, store: store, queue: queue, artifacts: artifacts}
}

func (f *workerFixture) seedAsset(t *testing.T, data []byte) *domain.Asset {
	t.Helper()
	ctx := context.Background()

	asset := &domain.Asset{
		AssetID:     uuid.New().String(),
		StorageRef:  "original/" + uuid.New().String(),
		SizeBytes:   int64(len(data)),
		ContentType: "image/jpeg",
		CreatedAt:   time.Now(),
	}
	require.NoError(t, f.store.CreateAsset(ctx, asset))
	require.NoError(t, f.artifacts.MemoryStore.Put(ctx, asset.StorageRef, data, asset.ContentType))
	return asset
}

func (f *workerFixture) seedJob(t *testing.T, assetID, op string, params domain.Params, maxAttempts int) *domain.Job {
	t.Helper()

	job := &domain.Job{
		JobID:       uuid.New().String(),
		AssetID:     assetID,
		Operation:   op,
		Parameters:  params,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, f.store.Create(context.Background(), job))
	return job
}

func sampleJPEG(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 200, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 64, A: 255})
		}
	}

	buf := new(bytes.Buffer)
	require.NoError(t, imaging.Encode(buf, img, imaging.JPEG))
	return buf.Bytes()
}

func TestProcessJob_ResizeSucceeds(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	asset := f.seedAsset(t, sampleJPEG(t))
	job := f.seedJob(t, asset.AssetID, domain.OpResize, domain.Params{Width: 100, Height: 50}, 3)

	err := f.worker.processJob(ctx, &domain.JobMessage{JobID: job.JobID})
	require.NoError(t, err)

	got, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSucceeded, got.State)
	assert.Equal(t, 1, got.Attempts)
	assert.NotEmpty(t, got.ResultRef)
	assert.Nil(t, got.Error)

	// The result is fetchable and has the requested dimensions.
	data, err := f.artifacts.Get(ctx, got.ResultRef)
	require.NoError(t, err)
	out, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())
}

func TestProcessJob_MissingAssetFailsTerminally(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	asset := f.seedAsset(t, sampleJPEG(t))
	job := f.seedJob(t, asset.AssetID, domain.OpGrayscale, domain.Params{}, 3)

	// The asset disappears between submission and execution.
	require.NoError(t, f.store.DeleteAsset(ctx, asset.AssetID))

	err := f.worker.processJob(ctx, &domain.JobMessage{JobID: job.JobID})
	require.NoError(t, err, "a terminal failure still settles the job")

	got, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, 1, got.Attempts, "a missing asset must not burn retries")
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrCodeAssetUnavailable, got.Error.Code)
	assert.Empty(t, got.ResultRef)
}

func TestProcessJob_TransientFailureRetriesThenSucceeds(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	asset := f.seedAsset(t, sampleJPEG(t))
	job := f.seedJob(t, asset.AssetID, domain.OpGrayscale, domain.Params{}, 3)

	// The first two result writes hit a storage outage.
	f.artifacts.putFails = 2

	for attempt := 1; attempt <= 3; attempt++ {
		err := f.worker.processJob(ctx, &domain.JobMessage{JobID: job.JobID})
		require.NoError(t, err, "attempt %d should settle the job", attempt)

		got, err := f.store.Get(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, attempt, got.Attempts)

		if attempt < 3 {
			assert.Equal(t, domain.StateQueued, got.State, "attempt %d should re-queue", attempt)
		}
	}

	got, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateSucceeded, got.State)
	assert.Equal(t, 3, got.Attempts)
	assert.Nil(t, got.Error)
	assert.NotEmpty(t, got.ResultRef)
}

func TestProcessJob_TransientFailureExhaustsAttempts(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	asset := f.seedAsset(t, sampleJPEG(t))
	job := f.seedJob(t, asset.AssetID, domain.OpGrayscale, domain.Params{}, 2)

	f.artifacts.putFails = 10

	for attempt := 1; attempt <= 2; attempt++ {
		err := f.worker.processJob(ctx, &domain.JobMessage{JobID: job.JobID})
		require.NoError(t, err)
	}

	got, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrCodeTransformFailed, got.Error.Code)
}

func TestProcessJob_CanceledBeforeExecution(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	asset := f.seedAsset(t, sampleJPEG(t))
	job := f.seedJob(t, asset.AssetID, domain.OpGrayscale, domain.Params{}, 3)

	_, err := f.store.RequestCancel(ctx, job.JobID)
	require.NoError(t, err)

	err = f.worker.processJob(ctx, &domain.JobMessage{JobID: job.JobID})
	require.NoError(t, err)

	got, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, domain.ErrCodeCanceled, got.Error.Code)
}

func TestProcessJob_DuplicateDeliveryAbandoned(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	asset := f.seedAsset(t, sampleJPEG(t))
	job := f.seedJob(t, asset.AssetID, domain.OpGrayscale, domain.Params{}, 3)

	// Another worker already claimed the job.
	_, err := f.store.TryClaim(ctx, job.JobID, "other-worker")
	require.NoError(t, err)

	err = f.worker.processJob(ctx, &domain.JobMessage{JobID: job.JobID})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	assert.False(t, f.worker.shouldRequeueDelivery(err), "a lost claim drops the delivery")

	// The owning worker's view is untouched.
	got, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, got.State)
	assert.Equal(t, "other-worker", got.WorkerToken)
	assert.Equal(t, 1, got.Attempts)
}

func TestProcessJob_UnknownJobAbandoned(t *testing.T) {
	f := newWorkerFixture(t)

	err := f.worker.processJob(context.Background(), &domain.JobMessage{JobID: uuid.New().String()})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, f.worker.shouldRequeueDelivery(err))
}

func TestShouldRequeueDelivery(t *testing.T) {
	f := newWorkerFixture(t)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"already claimed", fmt.Errorf("wrap: %w", domain.ErrAlreadyClaimed), false},
		{"not found", fmt.Errorf("wrap: %w", domain.ErrNotFound), false},
		{"invalid transition", fmt.Errorf("wrap: %w", domain.ErrInvalidTransition), false},
		{"retryable infrastructure", domain.NewRetryableError(errors.New("db down")), true},
		{"unknown error", errors.New("unexpected"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.worker.shouldRequeueDelivery(tt.err))
		})
	}
}
