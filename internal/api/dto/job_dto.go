package dto

import (
	"time"

	"github.com/cuongbtq/imageflow/internal/domain"
)

type CreateJobRequest struct {
	AssetID    string        `json:"asset_id" binding:"required"`
	Operation  string        `json:"operation" binding:"required"`
	Parameters domain.Params `json:"parameters"`
}

type ListJobsRequest struct {
	AssetID   string `form:"asset_id"`
	Operation string `form:"operation"`
	State     string `form:"state"`
	PageSize  int    `form:"page_size"`
	Cursor    string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID           string            `json:"job_id"`
	AssetID         string            `json:"asset_id"`
	Operation       string            `json:"operation"`
	Parameters      domain.Params     `json:"parameters"`
	State           string            `json:"state"`
	CancelRequested bool              `json:"cancel_requested"`
	ResultRef       string            `json:"result_ref,omitempty"`
	Error           *domain.ErrorInfo `json:"error,omitempty"`
	Attempts        int               `json:"attempts"`
	CreatedAt       string            `json:"created_at"`
	StartedAt       string            `json:"started_at,omitempty"`
	FinishedAt      string            `json:"finished_at,omitempty"`
}

type AssetDTO struct {
	AssetID     string `json:"asset_id"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
	CreatedAt   string `json:"created_at"`
}

// FromJob maps a domain job to its API representation.
func FromJob(job *domain.Job) JobDTO {
	dto := JobDTO{
		JobID:           job.JobID,
		AssetID:         job.AssetID,
		Operation:       job.Operation,
		Parameters:      job.Parameters,
		State:           job.State,
		CancelRequested: job.CancelRequested,
		ResultRef:       job.ResultRef,
		Error:           job.Error,
		Attempts:        job.Attempts,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		dto.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		dto.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return dto
}

// FromAsset maps asset metadata to its API representation.
func FromAsset(asset *domain.Asset) AssetDTO {
	return AssetDTO{
		AssetID:     asset.AssetID,
		SizeBytes:   asset.SizeBytes,
		ContentType: asset.ContentType,
		CreatedAt:   asset.CreatedAt.Format(time.RFC3339),
	}
}
