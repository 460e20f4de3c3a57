package domain

import "errors"

var (
	// ErrNotFound is returned when a job or asset cannot be found.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID is returned when a generated id collides on insert.
	// This indicates a broken id generation scheme and is never expected.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrAlreadyClaimed is returned when attempting to claim a job that is
	// not in QUEUED state. The caller must abandon the delivery silently.
	ErrAlreadyClaimed = errors.New("job already claimed or not in QUEUED state")

	// ErrInvalidTransition is returned when a completion or cancellation
	// targets a job whose state no longer permits it, e.g. a crashed
	// worker's delayed write after another attempt already finished.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidOperation is returned at submission for unknown operation kinds.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidParameters is returned at submission when parameters fail
	// the operation's schema.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrNotReady is returned by result lookups while the job is still
	// QUEUED or RUNNING.
	ErrNotReady = errors.New("result not ready")
)

// Error codes recorded in ErrorInfo on terminal failure.
const (
	ErrCodeAssetUnavailable = "asset_unavailable"
	ErrCodeTransformFailed  = "transform_failed"
	ErrCodeInvalidParams    = "invalid_parameters"
	ErrCodeCanceled         = "canceled"
)

// TransformError is an engine-reported failure. Retryable errors are retried
// up to the job's attempt ceiling; the rest fail the job terminally.
type TransformError struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *TransformError) Error() string {
	return "transform error: " + e.Err.Error()
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// NewTransformError wraps err as a TransformError with the given code.
func NewTransformError(code string, retryable bool, err error) error {
	return &TransformError{Code: code, Retryable: retryable, Err: err}
}

// RetryableError wraps transient infrastructure errors that should trigger a
// queue-level redelivery rather than a job state change.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// JobFailedError carries the recorded cause of a terminally failed job to
// result lookups.
type JobFailedError struct {
	Info ErrorInfo
}

func (e *JobFailedError) Error() string {
	return "job failed: " + e.Info.Code + ": " + e.Info.Message
}
