package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/imageflow/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "imageflow-api-service",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	imageHandler := handler.NewImageHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		images := v1.Group("/images")
		{
			// POST /api/v1/images - Upload an image
			images.POST("", imageHandler.UploadImage)

			// GET /api/v1/images/:asset_id - Get upload metadata
			images.GET("/:asset_id", imageHandler.GetImage)
		}

		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a transform job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job status
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/result - Fetch the processed image
			jobs.GET("/:job_id/result", jobHandler.GetJobResult)

			// POST /api/v1/jobs/:job_id/cancel - Request cancellation
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}
	}

	return r
}
