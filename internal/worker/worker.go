package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/vidsecure/pipeline/internal/classifier"
	"github.com/vidsecure/pipeline/internal/config"
	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/internal/metrics"
	"github.com/vidsecure/pipeline/pkg/models"
)

// Lifecycle applies classification outcomes to the video state machine
type Lifecycle interface {
	MarkSafe(ctx context.Context, id string, durationSeconds *float64) (*models.Video, error)
	MarkFlagged(ctx context.Context, id, reason string, durationSeconds *float64) (*models.Video, error)
	MarkFailed(ctx context.Context, id, reason string) (*models.Video, error)
	RecordProcessingProgress(ctx context.Context, id string, progress int) error
}

// Retryer republishes jobs for delayed retry or dead-letters them
type Retryer interface {
	PublishRetry(ctx context.Context, job *models.Job, delay time.Duration) error
	PublishDeadLetter(ctx context.Context, job *models.Job, reason string) error
}

// Coordinator holds the job markers and cancellation flags
type Coordinator interface {
	IsCancelled(ctx context.Context, videoID string) (bool, error)
	ClearCancelFlag(ctx context.Context, videoID string) error
	ReleaseJobMarker(ctx context.Context, videoID string) error
}

// Pool processes classification jobs. Each job scores the video's blob,
// applies the verdict through the state machine and owns its own retry and
// dead-letter decisions.
type Pool struct {
	cfg       config.PipelineConfig
	scorer    classifier.Scorer
	lifecycle Lifecycle
	retryer   Retryer
	coord     Coordinator
	log       *logging.Logger
}

// NewPool creates a classification worker pool
func NewPool(cfg config.PipelineConfig, scorer classifier.Scorer, lifecycle Lifecycle, retryer Retryer, coord Coordinator, log *logging.Logger) *Pool {
	return &Pool{
		cfg:       cfg,
		scorer:    scorer,
		lifecycle: lifecycle,
		retryer:   retryer,
		coord:     coord,
		log:       log,
	}
}

// Handle processes one classification job. It returns nil for every outcome
// the pool handled itself, including retries and dead letters; a non-nil
// return asks the broker to redeliver.
func (p *Pool) Handle(ctx context.Context, job *models.Job) error {
	start := time.Now()
	metrics.JobsInProgress.Inc()
	defer metrics.JobsInProgress.Dec()
	defer func() {
		metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	log := p.log.WithVideoID(job.VideoID)
	log.LogJobEvent(job.VideoID, "started", job.AttemptCount, nil)

	if cancelled, err := p.coord.IsCancelled(ctx, job.VideoID); err != nil {
		log.ErrorWithErr("Failed to check cancel flag", err)
	} else if cancelled {
		return p.discard(ctx, job, "cancelled before scoring")
	}

	// The lease bounds how long a job can hold a worker; a hung classifier
	// call turns into a transient failure and goes through retry.
	leaseCtx, cancel := context.WithTimeout(ctx, p.cfg.LeaseTimeout)
	defer cancel()

	progressDone := p.startProgressTicker(leaseCtx, job.VideoID)
	verdict, err := p.scorer.Score(leaseCtx, job.BlobRef)
	progressDone()

	if err != nil {
		return p.handleFailure(ctx, job, err)
	}

	// A delete that raced the classifier wins: the verdict is discarded
	// rather than resurrecting the video.
	if cancelled, cerr := p.coord.IsCancelled(ctx, job.VideoID); cerr != nil {
		log.ErrorWithErr("Failed to check cancel flag", cerr)
	} else if cancelled {
		return p.discard(ctx, job, "cancelled during scoring")
	}

	return p.applyVerdict(ctx, job, verdict)
}

// startProgressTicker emits advisory processing progress while the
// classifier runs. Progress tops out short of 100; only a verdict finishes
// the bar.
func (p *Pool) startProgressTicker(ctx context.Context, videoID string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(p.cfg.ProgressInterval)
		defer ticker.Stop()

		progress := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				progress += 5
				if progress > 95 {
					progress = 95
				}
				if err := p.lifecycle.RecordProcessingProgress(ctx, videoID, progress); err != nil {
					p.log.WithVideoID(videoID).ErrorWithErr("Failed to record processing progress", err)
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (p *Pool) applyVerdict(ctx context.Context, job *models.Job, verdict *classifier.Verdict) error {
	log := p.log.WithVideoID(job.VideoID)
	metrics.RecordVerdict(verdict.Verdict, verdict.Confidence)

	var err error
	switch verdict.Verdict {
	case classifier.VerdictSafe:
		_, err = p.lifecycle.MarkSafe(ctx, job.VideoID, verdict.DurationSeconds)
	case classifier.VerdictFlagged:
		_, err = p.lifecycle.MarkFlagged(ctx, job.VideoID, verdict.Reason, verdict.DurationSeconds)
	default:
		return p.handleFailure(ctx, job,
			&models.TransientInfraError{Op: "verdict decode", Err: fmt.Errorf("unknown verdict %q", verdict.Verdict)})
	}

	if err != nil {
		if models.IsOrderingConflict(err) {
			// Already terminal, a duplicate delivery lost the CAS race.
			log.LogJobEvent(job.VideoID, "verdict discarded", job.AttemptCount, map[string]interface{}{
				"reason": "video no longer processing",
			})
			return p.release(ctx, job)
		}
		if models.IsNotFound(err) {
			return p.release(ctx, job)
		}
		return p.handleFailure(ctx, job, err)
	}

	log.LogJobEvent(job.VideoID, "completed", job.AttemptCount, map[string]interface{}{
		"verdict":    verdict.Verdict,
		"confidence": verdict.Confidence,
	})
	return p.release(ctx, job)
}

// handleFailure routes an error to terminal failure, delayed retry or the
// dead letter queue
func (p *Pool) handleFailure(ctx context.Context, job *models.Job, err error) error {
	log := p.log.WithVideoID(job.VideoID)

	if models.IsPermanentMedia(err) {
		metrics.RecordClassifierError("permanent")
		log.LogJobEvent(job.VideoID, "permanent failure", job.AttemptCount, map[string]interface{}{
			"error": err.Error(),
		})
		if _, ferr := p.lifecycle.MarkFailed(ctx, job.VideoID, err.Error()); ferr != nil && !models.IsOrderingConflict(ferr) && !models.IsNotFound(ferr) {
			log.ErrorWithErr("Failed to mark video failed", ferr)
			return ferr
		}
		return p.release(ctx, job)
	}

	metrics.RecordClassifierError("transient")

	if job.AttemptCount >= p.cfg.MaxAttempts {
		reason := fmt.Sprintf("classification failed after %d attempts: %v", job.AttemptCount, err)
		log.LogJobEvent(job.VideoID, "dead lettered", job.AttemptCount, map[string]interface{}{
			"error": err.Error(),
		})

		if derr := p.retryer.PublishDeadLetter(ctx, job, reason); derr != nil {
			log.ErrorWithErr("Failed to dead letter job", derr)
			return derr
		}
		metrics.JobsDeadLetteredTotal.Inc()

		if _, ferr := p.lifecycle.MarkFailed(ctx, job.VideoID, reason); ferr != nil && !models.IsOrderingConflict(ferr) && !models.IsNotFound(ferr) {
			log.ErrorWithErr("Failed to mark video failed", ferr)
		}
		return p.release(ctx, job)
	}

	retry := &models.Job{
		VideoID:      job.VideoID,
		OwnerID:      job.OwnerID,
		BlobRef:      job.BlobRef,
		AttemptCount: job.AttemptCount + 1,
		EnqueuedAt:   job.EnqueuedAt,
	}
	delay := p.backoff(job.AttemptCount)

	log.LogJobEvent(job.VideoID, "retry scheduled", retry.AttemptCount, map[string]interface{}{
		"delay": delay.String(),
		"error": err.Error(),
	})

	if rerr := p.retryer.PublishRetry(ctx, retry, delay); rerr != nil {
		log.ErrorWithErr("Failed to schedule retry", rerr)
		return rerr
	}
	metrics.JobsRetriedTotal.Inc()
	return nil
}

// backoff returns the exponential delay for the next attempt, capped at the
// configured maximum
func (p *Pool) backoff(attempt int) time.Duration {
	delay := p.cfg.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.cfg.RetryMaxDelay {
			return p.cfg.RetryMaxDelay
		}
	}
	if delay > p.cfg.RetryMaxDelay {
		delay = p.cfg.RetryMaxDelay
	}
	return delay
}

// discard drops a cancelled job without applying anything
func (p *Pool) discard(ctx context.Context, job *models.Job, reason string) error {
	p.log.LogJobEvent(job.VideoID, "discarded", job.AttemptCount, map[string]interface{}{
		"reason": reason,
	})

	if err := p.coord.ClearCancelFlag(ctx, job.VideoID); err != nil {
		p.log.WithVideoID(job.VideoID).ErrorWithErr("Failed to clear cancel flag", err)
	}
	return p.release(ctx, job)
}

// release frees the video's active-job marker so a future enqueue can run
func (p *Pool) release(ctx context.Context, job *models.Job) error {
	if err := p.coord.ReleaseJobMarker(ctx, job.VideoID); err != nil {
		p.log.WithVideoID(job.VideoID).ErrorWithErr("Failed to release job marker", err)
	}
	return nil
}
