package queue

import (
	"context"
	"time"

	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/internal/metrics"
	"github.com/vidsecure/pipeline/pkg/models"
)

// Publisher publishes jobs to the work queue
type Publisher interface {
	Publish(ctx context.Context, job *models.Job) error
}

// Locker holds the per-video active-job marker
type Locker interface {
	AcquireJobMarker(ctx context.Context, videoID string, ttl time.Duration) (bool, error)
	ReleaseJobMarker(ctx context.Context, videoID string) error
}

// Enqueuer publishes classification jobs, at most one active per video.
// Enqueuing a video that already has a live job is a no-op.
type Enqueuer struct {
	publisher Publisher
	locker    Locker
	markerTTL time.Duration
	log       *logging.Logger
}

// NewEnqueuer creates an idempotent job enqueuer
func NewEnqueuer(publisher Publisher, locker Locker, markerTTL time.Duration, log *logging.Logger) *Enqueuer {
	return &Enqueuer{
		publisher: publisher,
		locker:    locker,
		markerTTL: markerTTL,
		log:       log,
	}
}

// Enqueue publishes the first classification attempt for a video. Returns
// true if a job was published, false if one was already active.
func (e *Enqueuer) Enqueue(ctx context.Context, video *models.Video) (bool, error) {
	acquired, err := e.locker.AcquireJobMarker(ctx, video.ID, e.markerTTL)
	if err != nil {
		return false, &models.TransientInfraError{Op: "acquire job marker", Err: err}
	}
	if !acquired {
		e.log.WithVideoID(video.ID).Debug("Job already active, enqueue is a no-op")
		return false, nil
	}

	job := &models.Job{
		VideoID:      video.ID,
		OwnerID:      video.OwnerID,
		BlobRef:      video.BlobRef,
		AttemptCount: 1,
		EnqueuedAt:   time.Now().UTC(),
	}

	if err := e.publisher.Publish(ctx, job); err != nil {
		// Roll the marker back so a later enqueue can succeed.
		if rerr := e.locker.ReleaseJobMarker(ctx, video.ID); rerr != nil {
			e.log.WithVideoID(video.ID).ErrorWithErr("Failed to release job marker after publish failure", rerr)
		}
		return false, err
	}

	e.log.LogJobEvent(video.ID, "enqueued", job.AttemptCount, nil)
	metrics.JobsEnqueuedTotal.Inc()
	return true, nil
}
