package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vidsecure/pipeline/internal/config"
	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/internal/metrics"
	"github.com/vidsecure/pipeline/pkg/models"
)

// Repository defines the persistence operations the coordinator needs
type Repository interface {
	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	SetBlobRef(ctx context.Context, id, blobRef string) error
}

// BlobStore stages chunks and composes them into the final blob
type BlobStore interface {
	PutChunk(ctx context.Context, videoID string, offset int64, reader io.Reader, size int64, contentType string) error
	ComposeBlob(ctx context.Context, videoID string, offsets []int64, contentType string) (string, error)
	RemoveUpload(ctx context.Context, videoID string) error
}

// Lifecycle drives the video state machine
type Lifecycle interface {
	CompleteUpload(ctx context.Context, id string) (*models.Video, error)
	FailUpload(ctx context.Context, id, reason string) (*models.Video, error)
	RecordUploadProgress(ctx context.Context, id string, progress int) error
}

// JobEnqueuer enqueues the classification job for a finished upload
type JobEnqueuer interface {
	Enqueue(ctx context.Context, video *models.Video) (bool, error)
}

// session tracks one in-flight upload. Chunk bookkeeping is per-offset so a
// retried chunk never double-counts progress.
type session struct {
	mu           sync.Mutex
	videoID      string
	ownerID      string
	contentType  string
	declaredSize int64
	chunkSize    int64
	chunks       map[int64]int64 // offset -> size
	received     int64
	lastActivity time.Time
	finalizing   bool
}

// Coordinator accepts chunked resumable uploads, stages bytes in the blob
// store and hands finished uploads to the state machine and job queue.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[string]*session

	cfg       config.UploadConfig
	repo      Repository
	store     BlobStore
	lifecycle Lifecycle
	enqueuer  JobEnqueuer
	log       *logging.Logger
}

// NewCoordinator creates an ingestion coordinator
func NewCoordinator(cfg config.UploadConfig, repo Repository, store BlobStore, lifecycle Lifecycle, enqueuer JobEnqueuer, log *logging.Logger) *Coordinator {
	return &Coordinator{
		sessions:  make(map[string]*session),
		cfg:       cfg,
		repo:      repo,
		store:     store,
		lifecycle: lifecycle,
		enqueuer:  enqueuer,
		log:       log,
	}
}

// Initiate validates the declared upload and creates the video entity.
// Every rejection happens before anything is persisted.
func (c *Coordinator) Initiate(ctx context.Context, ownerID, filename, title, description string, declaredSize int64, contentType string) (*models.Video, error) {
	if filename == "" {
		metrics.RecordUploadRejected("filename")
		return nil, &models.ValidationError{Field: "filename", Reason: "must not be empty"}
	}
	if declaredSize <= 0 {
		metrics.RecordUploadRejected("size")
		return nil, &models.ValidationError{Field: "size_bytes", Reason: "must be positive"}
	}
	if declaredSize > c.cfg.MaxSizeBytes {
		metrics.RecordUploadRejected("size")
		return nil, &models.ValidationError{
			Field:  "size_bytes",
			Reason: fmt.Sprintf("exceeds maximum of %d bytes", c.cfg.MaxSizeBytes),
		}
	}
	if !c.contentTypeAllowed(contentType) {
		metrics.RecordUploadRejected("content_type")
		return nil, &models.ValidationError{
			Field:  "content_type",
			Reason: fmt.Sprintf("%q is not an accepted video type", contentType),
		}
	}

	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	video := &models.Video{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Filename:    filename,
		Title:       title,
		Description: description,
		SizeBytes:   declaredSize,
		Status:      models.VideoStatusUploading,
	}

	if err := c.repo.CreateVideo(ctx, video); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.sessions[video.ID] = &session{
		videoID:      video.ID,
		ownerID:      ownerID,
		contentType:  contentType,
		declaredSize: declaredSize,
		chunkSize:    c.cfg.ChunkSizeBytes,
		chunks:       make(map[int64]int64),
		lastActivity: time.Now(),
	}
	c.mu.Unlock()

	metrics.UploadsInitiatedTotal.Inc()
	metrics.UploadSizeBytes.Observe(float64(declaredSize))
	c.log.WithVideoID(video.ID).WithOwnerID(ownerID).
		Infof("Upload initiated: %s (%d bytes)", filename, declaredSize)

	return video, nil
}

func (c *Coordinator) contentTypeAllowed(contentType string) bool {
	for _, allowed := range c.cfg.AllowedContentTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}

func (c *Coordinator) session(videoID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[videoID]
	if !ok {
		return nil, &models.NotFoundError{VideoID: videoID}
	}
	return sess, nil
}

// expectedChunkSize returns the required size of the chunk at offset: full
// chunks everywhere except a shorter tail.
func (s *session) expectedChunkSize(offset int64) int64 {
	remaining := s.declaredSize - offset
	if remaining < s.chunkSize {
		return remaining
	}
	return s.chunkSize
}

// PutChunk stages one chunk, idempotent by (video, offset). Chunks may
// arrive concurrently and in any order; only finalization is serialized.
func (c *Coordinator) PutChunk(ctx context.Context, videoID string, offset int64, reader io.Reader, size int64) (int, error) {
	sess, err := c.session(videoID)
	if err != nil {
		return 0, err
	}

	sess.mu.Lock()
	if sess.finalizing {
		sess.mu.Unlock()
		return 0, &models.ValidationError{Field: "upload", Reason: "upload is already finalizing"}
	}
	if offset < 0 || offset >= sess.declaredSize || offset%sess.chunkSize != 0 {
		sess.mu.Unlock()
		metrics.RecordChunk("rejected")
		return 0, &models.ValidationError{Field: "offset", Reason: "not a valid chunk offset"}
	}
	if size != sess.expectedChunkSize(offset) {
		sess.mu.Unlock()
		metrics.RecordChunk("rejected")
		return 0, &models.ValidationError{
			Field:  "chunk",
			Reason: fmt.Sprintf("chunk at offset %d must be %d bytes", offset, sess.expectedChunkSize(offset)),
		}
	}
	sess.lastActivity = time.Now()
	contentType := sess.contentType
	sess.mu.Unlock()

	// The staged object is keyed by offset, so a retried chunk overwrites
	// its previous copy instead of corrupting the blob.
	if err := c.store.PutChunk(ctx, videoID, offset, reader, size, contentType); err != nil {
		metrics.RecordChunk("failed")
		return 0, &models.TransientInfraError{Op: "chunk write", Err: err}
	}

	sess.mu.Lock()
	if _, dup := sess.chunks[offset]; dup {
		metrics.RecordChunk("duplicate")
	} else {
		sess.chunks[offset] = size
		sess.received += size
		metrics.RecordChunk("accepted")
	}
	sess.lastActivity = time.Now()
	progress := int(sess.received * 100 / sess.declaredSize)
	sess.mu.Unlock()

	if err := c.lifecycle.RecordUploadProgress(ctx, videoID, progress); err != nil {
		c.log.WithVideoID(videoID).ErrorWithErr("Failed to record upload progress", err)
	}

	return progress, nil
}

// Complete finalizes the upload: verifies coverage, composes the blob,
// transitions the video to processing and enqueues exactly one job.
func (c *Coordinator) Complete(ctx context.Context, videoID string) (*models.Video, error) {
	sess, err := c.session(videoID)
	if err != nil {
		// A session that finished already leaves the video behind; report
		// the duplicate complete as an ordering conflict, not a 404.
		video, gerr := c.repo.GetVideo(ctx, videoID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &models.OrderingConflictError{VideoID: videoID, From: video.Status, Event: "upload-complete"}
	}

	sess.mu.Lock()
	if sess.finalizing {
		sess.mu.Unlock()
		return nil, &models.ValidationError{Field: "upload", Reason: "upload is already finalizing"}
	}
	if missing, ok := sess.missingOffset(); !ok {
		sess.mu.Unlock()
		return nil, &models.ValidationError{
			Field:  "upload",
			Reason: fmt.Sprintf("upload incomplete: missing chunk at offset %d", missing),
		}
	}
	sess.finalizing = true
	offsets := make([]int64, 0, len(sess.chunks))
	for offset := range sess.chunks {
		offsets = append(offsets, offset)
	}
	contentType := sess.contentType
	sess.mu.Unlock()

	fail := func(err error) (*models.Video, error) {
		sess.mu.Lock()
		sess.finalizing = false
		sess.mu.Unlock()
		return nil, err
	}

	blobRef, err := c.store.ComposeBlob(ctx, videoID, offsets, contentType)
	if err != nil {
		return fail(&models.TransientInfraError{Op: "blob compose", Err: err})
	}

	if err := c.repo.SetBlobRef(ctx, videoID, blobRef); err != nil {
		return fail(err)
	}

	video, err := c.lifecycle.CompleteUpload(ctx, videoID)
	if err != nil {
		// A retried Complete after a transient enqueue failure finds the
		// transition already committed; carry on to the enqueue, which is
		// idempotent.
		if !models.IsOrderingConflict(err) {
			return fail(err)
		}
		if video, err = c.repo.GetVideo(ctx, videoID); err != nil {
			return fail(err)
		}
		if video.Status != models.VideoStatusProcessing {
			return fail(&models.OrderingConflictError{VideoID: videoID, From: video.Status, Event: "upload-complete"})
		}
	}

	if _, err := c.enqueuer.Enqueue(ctx, video); err != nil {
		// The video is committed to processing; surface the queue failure
		// so the client retries Complete, which is a safe no-op transition
		// plus another idempotent enqueue attempt.
		c.log.WithVideoID(videoID).ErrorWithErr("Failed to enqueue classification job", err)
		return fail(err)
	}

	if err := c.store.RemoveUpload(ctx, videoID); err != nil {
		c.log.WithVideoID(videoID).ErrorWithErr("Failed to remove staged chunks", err)
	}

	c.mu.Lock()
	delete(c.sessions, videoID)
	c.mu.Unlock()

	c.log.WithVideoID(videoID).Info("Upload completed, classification job enqueued")
	return video, nil
}

// missingOffset reports the first uncovered offset, or ok when the chunk
// set covers the declared size exactly.
func (s *session) missingOffset() (int64, bool) {
	for offset := int64(0); offset < s.declaredSize; offset += s.chunkSize {
		if size, ok := s.chunks[offset]; !ok || size != s.expectedChunkSize(offset) {
			return offset, false
		}
	}
	return 0, true
}

// Forget drops the upload session and staged chunks without touching the
// entity. Used by cascading delete, which owns the entity's removal.
func (c *Coordinator) Forget(ctx context.Context, videoID string) {
	c.mu.Lock()
	_, ok := c.sessions[videoID]
	delete(c.sessions, videoID)
	c.mu.Unlock()

	if ok {
		if err := c.store.RemoveUpload(ctx, videoID); err != nil {
			c.log.WithVideoID(videoID).ErrorWithErr("Failed to remove staged chunks", err)
		}
	}
}

// Run reaps stalled uploads until the context is cancelled
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reapStale(ctx)
		}
	}
}

// reapStale fails uploads with no chunk activity inside the stall timeout
// and releases their partial blob storage
func (c *Coordinator) reapStale(ctx context.Context) {
	cutoff := time.Now().Add(-c.cfg.StallTimeout)

	c.mu.Lock()
	var stale []*session
	for _, sess := range c.sessions {
		sess.mu.Lock()
		if !sess.finalizing && sess.lastActivity.Before(cutoff) {
			stale = append(stale, sess)
		}
		sess.mu.Unlock()
	}
	for _, sess := range stale {
		delete(c.sessions, sess.videoID)
	}
	c.mu.Unlock()

	for _, sess := range stale {
		if _, err := c.lifecycle.FailUpload(ctx, sess.videoID, "upload abandoned"); err != nil && !models.IsOrderingConflict(err) {
			c.log.WithVideoID(sess.videoID).ErrorWithErr("Failed to fail abandoned upload", err)
		}
		if err := c.store.RemoveUpload(ctx, sess.videoID); err != nil {
			c.log.WithVideoID(sess.videoID).ErrorWithErr("Failed to remove staged chunks", err)
		}
		metrics.UploadsAbandonedTotal.Inc()
		c.log.WithVideoID(sess.videoID).Warn("Upload abandoned, partial storage released")
	}
}
