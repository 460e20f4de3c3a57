package handler

import (
	"log/slog"

	"github.com/cuongbtq/imageflow/internal/coordinator"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Coordinator    *coordinator.Coordinator
	MaxUploadBytes int64
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger      *slog.Logger
	coordinator *coordinator.Coordinator
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:      deps.Logger,
		coordinator: deps.Coordinator,
	}
}

// ImageHandler handles image upload and metadata HTTP requests
type ImageHandler struct {
	logger         *slog.Logger
	coordinator    *coordinator.Coordinator
	maxUploadBytes int64
}

// NewImageHandler creates a new ImageHandler instance
func NewImageHandler(deps *Dependencies) *ImageHandler {
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &ImageHandler{
		logger:         deps.Logger,
		coordinator:    deps.Coordinator,
		maxUploadBytes: maxUpload,
	}
}
