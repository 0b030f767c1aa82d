package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vidsecure/pipeline/internal/database"
	"github.com/vidsecure/pipeline/internal/middleware"
	"github.com/vidsecure/pipeline/pkg/models"
)

const videoCacheTTL = 30 * time.Second

// writeError maps pipeline errors onto HTTP status codes
func writeError(c *gin.Context, err error) {
	switch {
	case models.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case models.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
	case models.IsOrderingConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case models.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Temporarily unavailable, retry later"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// authorizeVideo loads a video and enforces owner scoping: callers see only
// their own videos unless they hold the admin capability
func (api *API) authorizeVideo(c *gin.Context, videoID string) (*models.Video, bool) {
	userID, _ := middleware.GetUserID(c)
	role, _ := middleware.GetRole(c)

	video, err := api.getCachedVideo(c.Request.Context(), videoID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}

	if video.OwnerID != userID && !role.Can(models.CapabilityAdmin) {
		// A foreign video is indistinguishable from a missing one.
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		return nil, false
	}

	return video, true
}

// getCachedVideo reads through the entity cache
func (api *API) getCachedVideo(ctx context.Context, videoID string) (*models.Video, error) {
	if cached, err := api.cache.GetVideo(ctx, videoID); err == nil && cached != nil {
		return cached, nil
	}

	video, err := api.repo.GetVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	if err := api.cache.SetVideo(ctx, video, videoCacheTTL); err != nil {
		api.log.WithVideoID(videoID).ErrorWithErr("Failed to cache video", err)
	}

	return video, nil
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.repo.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	if err := api.cache.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Initiate upload endpoint
func (api *API) initiateUpload(c *gin.Context) {
	var req struct {
		Filename    string `json:"filename" binding:"required"`
		Title       string `json:"title"`
		Description string `json:"description"`
		SizeBytes   int64  `json:"size_bytes" binding:"required"`
		ContentType string `json:"content_type" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, _ := middleware.GetUserID(c)

	video, err := api.coordinator.Initiate(c.Request.Context(),
		userID, req.Filename, req.Title, req.Description, req.SizeBytes, req.ContentType)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"video":            video,
		"chunk_size_bytes": api.chunkSize,
	})
}

// Upload chunk endpoint. The chunk body is streamed straight into the blob
// store; retrying the same offset is safe.
func (api *API) putChunk(c *gin.Context) {
	videoID := c.Param("id")

	offset, err := strconv.ParseInt(c.Param("offset"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chunk offset"})
		return
	}

	if _, ok := api.authorizeVideo(c, videoID); !ok {
		return
	}

	if c.Request.ContentLength < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content-Length required"})
		return
	}

	progress, err := api.coordinator.PutChunk(c.Request.Context(), videoID, offset, c.Request.Body, c.Request.ContentLength)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id":        videoID,
		"offset":          offset,
		"upload_progress": progress,
	})
}

// Complete upload endpoint
func (api *API) completeUpload(c *gin.Context) {
	videoID := c.Param("id")

	if _, ok := api.authorizeVideo(c, videoID); !ok {
		return
	}

	video, err := api.coordinator.Complete(c.Request.Context(), videoID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, video)
}

// Get video endpoint
func (api *API) getVideo(c *gin.Context) {
	video, ok := api.authorizeVideo(c, c.Param("id"))
	if !ok {
		return
	}

	c.JSON(http.StatusOK, video)
}

// List videos endpoint
func (api *API) listVideos(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	role, _ := middleware.GetRole(c)

	filter := database.ListFilter{
		OwnerID: userID,
	}

	if status := c.Query("status"); status != "" {
		s := models.VideoStatus(status)
		if !s.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status filter"})
			return
		}
		filter.Status = s
	}

	// Admins may list across owners.
	if role.Can(models.CapabilityAdmin) {
		filter.OwnerID = c.Query("owner_id")
	}

	filter.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	filter.PerPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))

	videos, total, err := api.repo.ListVideos(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	if videos == nil {
		videos = []*models.Video{}
	}

	c.JSON(http.StatusOK, gin.H{
		"videos":   videos,
		"total":    total,
		"page":     filter.Page,
		"per_page": filter.PerPage,
	})
}

// Update metadata endpoint
func (api *API) updateMetadata(c *gin.Context) {
	videoID := c.Param("id")

	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	video, ok := api.authorizeVideo(c, videoID)
	if !ok {
		return
	}

	title := video.Title
	if req.Title != nil {
		if *req.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Title must not be empty"})
			return
		}
		title = *req.Title
	}

	description := video.Description
	if req.Description != nil {
		description = *req.Description
	}

	if err := api.repo.UpdateMetadata(c.Request.Context(), videoID, title, description); err != nil {
		writeError(c, err)
		return
	}

	if err := api.cache.DeleteVideo(c.Request.Context(), videoID); err != nil {
		api.log.WithVideoID(videoID).ErrorWithErr("Failed to invalidate cached video", err)
	}

	video.Title = title
	video.Description = description
	c.JSON(http.StatusOK, video)
}

// Delete video endpoint. Deletion cascades: a video mid-processing has its
// in-flight job cancelled, staged chunks and the blob are removed, and the
// record goes last.
func (api *API) deleteVideo(c *gin.Context) {
	videoID := c.Param("id")
	ctx := c.Request.Context()

	video, ok := api.authorizeVideo(c, videoID)
	if !ok {
		return
	}

	if video.Status == models.VideoStatusProcessing {
		if err := api.cache.SetCancelFlag(ctx, videoID, api.cancelTTL); err != nil {
			api.log.WithVideoID(videoID).ErrorWithErr("Failed to set cancel flag", err)
		}
	}

	api.coordinator.Forget(ctx, videoID)

	if video.BlobRef != "" {
		if err := api.store.RemoveBlob(ctx, videoID); err != nil {
			api.log.WithVideoID(videoID).ErrorWithErr("Failed to remove blob", err)
		}
	}

	if err := api.repo.DeleteVideo(ctx, videoID); err != nil {
		writeError(c, err)
		return
	}

	if err := api.cache.DeleteVideo(ctx, videoID); err != nil {
		api.log.WithVideoID(videoID).ErrorWithErr("Failed to invalidate cached video", err)
	}

	api.log.WithVideoID(videoID).Info("Video deleted")
	c.JSON(http.StatusOK, gin.H{"message": "Video deleted successfully", "video_id": videoID})
}

// Admin queue stats endpoint
func (api *API) queueStats(c *gin.Context) {
	counts, err := api.repo.StatusCounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	stats := gin.H{"videos_by_status": counts}

	if depth, err := api.queue.Depth(); err == nil {
		stats["queue_depth"] = depth
	}
	if depth, err := api.queue.DLQDepth(); err == nil {
		stats["dlq_depth"] = depth
	}

	c.JSON(http.StatusOK, stats)
}
