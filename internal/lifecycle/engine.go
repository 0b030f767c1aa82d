package lifecycle

import (
	"context"
	"time"

	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/internal/metrics"
	"github.com/vidsecure/pipeline/pkg/models"
)

// Repository defines the persistence operations the engine needs
type Repository interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	CompareAndSetStatus(ctx context.Context, id, event string, from, to models.VideoStatus, patch models.StatusPatch) (*models.Video, error)
	BumpUploadProgress(ctx context.Context, id string, progress int) (*models.Video, error)
	BumpProcessingProgress(ctx context.Context, id string, progress int) (*models.Video, error)
}

// Notifier publishes committed state changes to the owning user's subscribers
type Notifier interface {
	Publish(ctx context.Context, event *models.Event) error
}

// Invalidator drops stale cached entities after a commit
type Invalidator interface {
	DeleteVideo(ctx context.Context, videoID string) error
}

// transitions is the legal state machine. Terminal states have no entry:
// any event arriving for them is an ordering conflict.
var transitions = map[models.VideoStatus]map[models.VideoStatus]bool{
	models.VideoStatusUploading: {
		models.VideoStatusProcessing: true,
		models.VideoStatusError:      true,
	},
	models.VideoStatusProcessing: {
		models.VideoStatusSafe:    true,
		models.VideoStatusFlagged: true,
		models.VideoStatusError:   true,
	},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to models.VideoStatus) bool {
	return transitions[from][to]
}

// Engine owns the video lifecycle. Every transition goes through a
// compare-and-set on status, so concurrent workers cannot double-apply an
// event and terminal states stay write-once.
type Engine struct {
	repo     Repository
	notifier Notifier
	cache    Invalidator
	log      *logging.Logger
}

// NewEngine creates a lifecycle engine
func NewEngine(repo Repository, notifier Notifier, cache Invalidator, log *logging.Logger) *Engine {
	return &Engine{
		repo:     repo,
		notifier: notifier,
		cache:    cache,
		log:      log,
	}
}

func (e *Engine) commit(ctx context.Context, id, event string, from, to models.VideoStatus, patch models.StatusPatch) (*models.Video, error) {
	if !CanTransition(from, to) {
		return nil, &models.OrderingConflictError{VideoID: id, From: from, Event: event}
	}

	video, err := e.repo.CompareAndSetStatus(ctx, id, event, from, to, patch)
	if err != nil {
		if models.IsOrderingConflict(err) {
			metrics.RecordOrderingConflict(event)
		}
		return nil, err
	}

	e.log.LogTransition(id, string(from), string(to), patch.FlagReason+patch.ErrorReason)
	metrics.RecordTransition(string(from), string(to))

	if err := e.cache.DeleteVideo(ctx, id); err != nil {
		e.log.WithVideoID(id).ErrorWithErr("Failed to invalidate cached video", err)
	}

	e.emit(ctx, video, nil, nil)
	return video, nil
}

func (e *Engine) emit(ctx context.Context, video *models.Video, uploadProgress, processingProgress *int) {
	event := &models.Event{
		VideoID:            video.ID,
		OwnerID:            video.OwnerID,
		Status:             video.Status,
		UploadProgress:     uploadProgress,
		ProcessingProgress: processingProgress,
		FlagReason:         video.FlagReason,
		ErrorReason:        video.ErrorReason,
		Timestamp:          time.Now().UTC(),
	}

	if err := e.notifier.Publish(ctx, event); err != nil {
		// Notifications are best-effort; the query API stays authoritative.
		e.log.WithVideoID(video.ID).ErrorWithErr("Failed to publish event", err)
	}
}

// CompleteUpload moves a fully uploaded video into processing
func (e *Engine) CompleteUpload(ctx context.Context, id string) (*models.Video, error) {
	video, err := e.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if video.Status == models.VideoStatusUploading && video.UploadProgress != 100 {
		return nil, &models.ValidationError{Field: "upload_progress", Reason: "upload is not complete"}
	}

	return e.commit(ctx, id, "upload-complete",
		models.VideoStatusUploading, models.VideoStatusProcessing, models.StatusPatch{})
}

// FailUpload terminates an abandoned or rejected upload
func (e *Engine) FailUpload(ctx context.Context, id, reason string) (*models.Video, error) {
	return e.commit(ctx, id, "upload-failed",
		models.VideoStatusUploading, models.VideoStatusError,
		models.StatusPatch{ErrorReason: reason})
}

// MarkSafe records a safe classifier verdict
func (e *Engine) MarkSafe(ctx context.Context, id string, durationSeconds *float64) (*models.Video, error) {
	return e.commit(ctx, id, "classifier-verdict-safe",
		models.VideoStatusProcessing, models.VideoStatusSafe,
		models.StatusPatch{DurationSeconds: durationSeconds})
}

// MarkFlagged records a flagged classifier verdict. The reason is written
// exactly once, here, and never overwritten.
func (e *Engine) MarkFlagged(ctx context.Context, id, reason string, durationSeconds *float64) (*models.Video, error) {
	if reason == "" {
		return nil, &models.ValidationError{Field: "flag_reason", Reason: "must not be empty"}
	}

	return e.commit(ctx, id, "classifier-verdict-flagged",
		models.VideoStatusProcessing, models.VideoStatusFlagged,
		models.StatusPatch{FlagReason: reason, DurationSeconds: durationSeconds})
}

// MarkFailed terminates processing with an explainable error, either a
// permanent media failure or an exhausted retry budget
func (e *Engine) MarkFailed(ctx context.Context, id, reason string) (*models.Video, error) {
	return e.commit(ctx, id, "processing-failed",
		models.VideoStatusProcessing, models.VideoStatusError,
		models.StatusPatch{ErrorReason: reason})
}

// RecordUploadProgress persists advisory upload progress. Ticks never
// regress the stored value and a tick after the upload finished is dropped.
func (e *Engine) RecordUploadProgress(ctx context.Context, id string, progress int) error {
	video, err := e.repo.BumpUploadProgress(ctx, id, progress)
	if err != nil {
		return err
	}
	if video == nil {
		return nil // late tick, dropped
	}

	e.emit(ctx, video, &video.UploadProgress, nil)
	return nil
}

// RecordProcessingProgress persists advisory processing progress with the
// same no-regress semantics as RecordUploadProgress
func (e *Engine) RecordProcessingProgress(ctx context.Context, id string, progress int) error {
	video, err := e.repo.BumpProcessingProgress(ctx, id, progress)
	if err != nil {
		return err
	}
	if video == nil {
		return nil // late tick, dropped
	}

	e.emit(ctx, video, nil, &video.ProcessingProgress)
	return nil
}
