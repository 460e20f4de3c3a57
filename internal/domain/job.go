package domain

import "time"

// Job states. Transitions are monotonic: QUEUED -> RUNNING -> {SUCCEEDED, FAILED},
// with RUNNING -> QUEUED allowed only on a bounded retry.
const (
	StateQueued    = "QUEUED"
	StateRunning   = "RUNNING"
	StateSucceeded = "SUCCEEDED"
	StateFailed    = "FAILED"
)

// Job is the canonical record of one transform request against one uploaded
// asset. The job store owns the record; workers hold transient copies only.
type Job struct {
	JobID           string     `db:"job_id" json:"job_id"`
	AssetID         string     `db:"asset_id" json:"asset_id"`
	Operation       string     `db:"operation" json:"operation"`
	Parameters      Params     `db:"parameters" json:"parameters"`
	State           string     `db:"state" json:"state"`
	CancelRequested bool       `db:"cancel_requested" json:"cancel_requested"`
	WorkerToken     string     `db:"worker_token" json:"-"`
	ResultRef       string     `db:"result_ref" json:"result_ref,omitempty"`
	Error           *ErrorInfo `db:"-" json:"error,omitempty"`
	Attempts        int        `db:"attempts" json:"attempts"`
	MaxAttempts     int        `db:"max_attempts" json:"max_attempts"`
	Requeues        int        `db:"requeues" json:"-"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	StartedAt       *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt      *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.State == StateSucceeded || j.State == StateFailed
}

// ErrorInfo is the structured cause recorded on a terminally failed job.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JobMessage is the payload carried on the dispatch queue. Only the job id
// travels over the wire; workers load everything else from the job store.
type JobMessage struct {
	JobID string `json:"job_id"`
}

// Asset describes an uploaded image. The metadata row is immutable once
// created; the bytes live in the artifact store under StorageRef.
type Asset struct {
	AssetID     string    `db:"asset_id"`
	StorageRef  string    `db:"storage_ref"`
	SizeBytes   int64     `db:"size_bytes"`
	ContentType string    `db:"content_type"`
	CreatedAt   time.Time `db:"created_at"`
}
