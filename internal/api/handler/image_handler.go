package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/imageflow/internal/api/dto"
	"github.com/cuongbtq/imageflow/internal/domain"
)

// UploadImage handles POST /api/v1/images
// Accepts a multipart image upload and records it as an immutable asset.
func (h *ImageHandler) UploadImage(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file field is required",
		})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file must be an image",
		})
		return
	}

	if fileHeader.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "file exceeds maximum upload size",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded file", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read upload",
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		h.logger.Error("Failed to read uploaded file", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read upload",
		})
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "file exceeds maximum upload size",
		})
		return
	}

	asset, err := h.coordinator.UploadAsset(c.Request.Context(), data, contentType)
	if err != nil {
		h.logger.Error("Failed to store upload", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.FromAsset(asset))
}

// GetImage handles GET /api/v1/images/:asset_id
// Returns upload metadata.
func (h *ImageHandler) GetImage(c *gin.Context) {
	assetID := c.Param("asset_id")
	if _, err := uuid.Parse(assetID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "asset_id must be a valid UUID",
		})
		return
	}

	asset, err := h.coordinator.GetAsset(c.Request.Context(), assetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Asset not found",
			})
			return
		}
		h.logger.Error("Failed to get asset", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get asset",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromAsset(asset))
}
