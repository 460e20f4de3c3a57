package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/imageflow/internal/domain"
	"github.com/cuongbtq/imageflow/shared/postgresql"
)

const jobColumns = `
	job_id, asset_id, operation, parameters, state, cancel_requested,
	worker_token, result_ref, error_code, error_message,
	attempts, max_attempts, requeues,
	created_at, updated_at, started_at, finished_at
`

// PostgresStore implements Store on PostgreSQL. All transitions are single
// UPDATE statements guarded by the expected current state, so concurrent
// workers race on the database row instead of application state.
type PostgresStore struct {
	db       *sqlx.DB
	logger   *slog.Logger
	enqueuer Enqueuer
}

// NewPostgresStore creates a PostgresStore. The enqueuer may be nil for
// read-only consumers; Fail then reports re-queues without publishing.
func NewPostgresStore(pg *postgresql.Client, enqueuer Enqueuer, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:       pg.GetDB(),
		logger:   logger,
		enqueuer: enqueuer,
	}
}

func (s *PostgresStore) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, asset_id, operation, parameters, state,
			attempts, max_attempts, requeues, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, 0, $6, 0, $7, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID, job.AssetID, job.Operation, job.Parameters,
		domain.StateQueued, job.MaxAttempts, job.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("job %s: %w", job.JobID, domain.ErrDuplicateID)
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	job.State = domain.StateQueued
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	row := s.db.QueryRowContext(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) TryClaim(ctx context.Context, jobID, workerToken string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET state = $1,
		    worker_token = $2,
		    attempts = attempts + 1,
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND state = $4
		RETURNING ` + jobColumns

	row := s.db.QueryRowContext(ctx, query, domain.StateRunning, workerToken, jobID, domain.StateQueued)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a missing job from a lost claim race.
			if _, getErr := s.Get(ctx, jobID); errors.Is(getErr, domain.ErrNotFound) {
				return nil, domain.ErrNotFound
			}
			s.logger.Warn("Failed to claim job - already claimed",
				slog.String("job_id", jobID),
				slog.String("worker_token", workerToken),
			)
			return nil, domain.ErrAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_token", workerToken),
		slog.Int("attempt", job.Attempts),
	)

	return job, nil
}

func (s *PostgresStore) Complete(ctx context.Context, jobID, resultRef string) error {
	query := `
		UPDATE jobs
		SET state = $1,
		    result_ref = $2,
		    finished_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND state = $4
	`

	result, err := s.db.ExecContext(ctx, query, domain.StateSucceeded, resultRef, jobID, domain.StateRunning)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, jobID); errors.Is(getErr, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidTransition
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
		slog.String("result_ref", resultRef),
	)

	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, jobID string, cause domain.ErrorInfo, retryable bool) (bool, error) {
	// One statement decides retry versus terminal failure so the attempt
	// ceiling cannot be raced past by two concurrent failure writes.
	query := `
		UPDATE jobs
		SET state = CASE WHEN $2 AND attempts < max_attempts THEN $5 ELSE $6 END,
		    error_code = CASE WHEN $2 AND attempts < max_attempts THEN NULL ELSE $3 END,
		    error_message = CASE WHEN $2 AND attempts < max_attempts THEN NULL ELSE $4 END,
		    finished_at = CASE WHEN $2 AND attempts < max_attempts THEN NULL ELSE NOW() END,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND state = $7
		RETURNING state
	`

	var newState string
	err := s.db.QueryRowContext(ctx, query,
		jobID, retryable, cause.Code, cause.Message,
		domain.StateQueued, domain.StateFailed, domain.StateRunning,
	).Scan(&newState)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.Get(ctx, jobID); errors.Is(getErr, domain.ErrNotFound) {
				return false, domain.ErrNotFound
			}
			return false, domain.ErrInvalidTransition
		}
		return false, fmt.Errorf("failed to fail job: %w", err)
	}

	if newState != domain.StateQueued {
		s.logger.Warn("Job failed terminally",
			slog.String("job_id", jobID),
			slog.String("error_code", cause.Code),
			slog.String("error_message", cause.Message),
		)
		return false, nil
	}

	s.logger.Info("Job re-queued for retry",
		slog.String("job_id", jobID),
		slog.String("error_code", cause.Code),
	)

	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(ctx, jobID); err != nil {
			// The job stays QUEUED; the reconciliation sweep picks it up.
			s.logger.Error("Failed to re-enqueue job, leaving for sweep",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	}

	return true, nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET cancel_requested = TRUE,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND state IN ($2, $3)
		RETURNING ` + jobColumns

	row := s.db.QueryRowContext(ctx, query, jobID, domain.StateQueued, domain.StateRunning)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.Get(ctx, jobID); errors.Is(getErr, domain.ErrNotFound) {
				return nil, domain.ErrNotFound
			}
			return nil, domain.ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to request cancel: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListOrphaned(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE state = $1
		  AND requeues = 0
		  AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := s.db.QueryContext(ctx, query, domain.StateQueued, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orphaned jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan orphaned job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) MarkRequeued(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET requeues = requeues + 1,
		    updated_at = NOW()
		WHERE job_id = $1
		  AND state = $2
	`

	_, err := s.db.ExecContext(ctx, query, jobID, domain.StateQueued)
	if err != nil {
		return fmt.Errorf("failed to mark job requeued: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter JobFilter) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.AssetID != "" {
		query += fmt.Sprintf(" AND asset_id = $%d", argIdx)
		args = append(args, filter.AssetID)
		argIdx++
	}

	if filter.Operation != "" {
		query += fmt.Sprintf(" AND operation = $%d", argIdx)
		args = append(args, filter.Operation)
		argIdx++
	}

	if filter.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, filter.State)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results.
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CreateAsset(ctx context.Context, asset *domain.Asset) error {
	query := `
		INSERT INTO assets (asset_id, storage_ref, size_bytes, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query,
		asset.AssetID, asset.StorageRef, asset.SizeBytes, asset.ContentType, asset.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("asset %s: %w", asset.AssetID, domain.ErrDuplicateID)
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, assetID string) (*domain.Asset, error) {
	query := `
		SELECT asset_id, storage_ref, size_bytes, content_type, created_at
		FROM assets
		WHERE asset_id = $1
	`

	var asset domain.Asset
	err := s.db.GetContext(ctx, &asset, query, assetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return &asset, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job          domain.Job
		workerToken  sql.NullString
		resultRef    sql.NullString
		errorCode    sql.NullString
		errorMessage sql.NullString
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
	)

	err := row.Scan(
		&job.JobID, &job.AssetID, &job.Operation, &job.Parameters,
		&job.State, &job.CancelRequested,
		&workerToken, &resultRef, &errorCode, &errorMessage,
		&job.Attempts, &job.MaxAttempts, &job.Requeues,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.WorkerToken = workerToken.String
	job.ResultRef = resultRef.String
	if errorCode.Valid {
		job.Error = &domain.ErrorInfo{Code: errorCode.String, Message: errorMessage.String}
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}

	return &job, nil
}
