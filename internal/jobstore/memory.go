package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/imageflow/internal/domain"
)

// MemoryStore implements Store with a mutex-guarded map. It preserves the
// same atomicity contracts as the Postgres implementation and backs tests
// and single-process development setups.
type MemoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	assets   map[string]*domain.Asset
	enqueuer Enqueuer
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore. The enqueuer may be nil.
func NewMemoryStore(enqueuer Enqueuer) *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*domain.Job),
		assets:   make(map[string]*domain.Asset),
		enqueuer: enqueuer,
		now:      time.Now,
	}
}

// SetEnqueuer wires the dispatch queue after construction, breaking the
// store/queue initialization cycle in process setup.
func (s *MemoryStore) SetEnqueuer(enqueuer Enqueuer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueuer = enqueuer
}

func (s *MemoryStore) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.JobID]; ok {
		return fmt.Errorf("job %s: %w", job.JobID, domain.ErrDuplicateID)
	}

	stored := *job
	stored.State = domain.StateQueued
	stored.Attempts = 0
	stored.Requeues = 0
	stored.UpdatedAt = stored.CreatedAt
	s.jobs[job.JobID] = &stored

	job.State = domain.StateQueued
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) TryClaim(ctx context.Context, jobID, workerToken string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.State != domain.StateQueued {
		return nil, domain.ErrAlreadyClaimed
	}

	now := s.now()
	job.State = domain.StateRunning
	job.WorkerToken = workerToken
	job.Attempts++
	job.StartedAt = &now
	job.UpdatedAt = now

	return cloneJob(job), nil
}

func (s *MemoryStore) Complete(ctx context.Context, jobID, resultRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.StateRunning {
		return domain.ErrInvalidTransition
	}

	now := s.now()
	job.State = domain.StateSucceeded
	job.ResultRef = resultRef
	job.FinishedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, jobID string, cause domain.ErrorInfo, retryable bool) (bool, error) {
	s.mu.Lock()

	job, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return false, domain.ErrNotFound
	}
	if job.State != domain.StateRunning {
		s.mu.Unlock()
		return false, domain.ErrInvalidTransition
	}

	now := s.now()
	job.UpdatedAt = now

	if retryable && job.Attempts < job.MaxAttempts {
		job.State = domain.StateQueued
		job.Error = nil
		enqueuer := s.enqueuer
		s.mu.Unlock()

		if enqueuer != nil {
			// Enqueue failure leaves the job QUEUED for the sweep.
			_ = enqueuer.Enqueue(ctx, jobID)
		}
		return true, nil
	}

	job.State = domain.StateFailed
	job.Error = &domain.ErrorInfo{Code: cause.Code, Message: cause.Message}
	job.FinishedAt = &now
	s.mu.Unlock()
	return false, nil
}

func (s *MemoryStore) RequestCancel(ctx context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if job.Terminal() {
		return nil, domain.ErrInvalidTransition
	}

	job.CancelRequested = true
	job.UpdatedAt = s.now()
	return cloneJob(job), nil
}

func (s *MemoryStore) ListOrphaned(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orphans []*domain.Job
	for _, job := range s.jobs {
		if job.State != domain.StateQueued || job.Requeues > 0 {
			continue
		}
		if !job.UpdatedAt.Before(cutoff) {
			continue
		}
		orphans = append(orphans, cloneJob(job))
		if len(orphans) >= limit {
			break
		}
	}
	return orphans, nil
}

func (s *MemoryStore) MarkRequeued(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if job.State != domain.StateQueued {
		return nil
	}

	job.Requeues++
	job.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*domain.Job
	for _, job := range s.jobs {
		if filter.AssetID != "" && job.AssetID != filter.AssetID {
			continue
		}
		if filter.Operation != "" && job.Operation != filter.Operation {
			continue
		}
		if filter.State != "" && job.State != filter.State {
			continue
		}
		if filter.Cursor != nil {
			if job.CreatedAt.After(filter.Cursor.CreatedAt) {
				continue
			}
			if job.CreatedAt.Equal(filter.Cursor.CreatedAt) && job.JobID >= filter.Cursor.JobID {
				continue
			}
		}
		jobs = append(jobs, cloneJob(job))
	}

	sortJobsDesc(jobs)
	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

func (s *MemoryStore) CreateAsset(ctx context.Context, asset *domain.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[asset.AssetID]; ok {
		return fmt.Errorf("asset %s: %w", asset.AssetID, domain.ErrDuplicateID)
	}

	stored := *asset
	s.assets[asset.AssetID] = &stored
	return nil
}

func (s *MemoryStore) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[assetID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	clone := *asset
	return &clone, nil
}

// DeleteAsset removes asset metadata. Used by the retention sweep and by
// tests simulating an asset disappearing before execution.
func (s *MemoryStore) DeleteAsset(ctx context.Context, assetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, assetID)
	return nil
}

func cloneJob(job *domain.Job) *domain.Job {
	clone := *job
	if job.Error != nil {
		info := *job.Error
		clone.Error = &info
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		clone.StartedAt = &t
	}
	if job.FinishedAt != nil {
		t := *job.FinishedAt
		clone.FinishedAt = &t
	}
	return &clone
}

func sortJobsDesc(jobs []*domain.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].JobID > jobs[j].JobID
	})
}
