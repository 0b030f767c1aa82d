package models

import (
	"time"
)

// Job is the work item for one classification attempt of a video. It exists
// only inside the queue; the active-job marker in Redis guarantees that at
// most one job is live per video at any time.
type Job struct {
	VideoID      string    `json:"video_id"`
	OwnerID      string    `json:"owner_id"`
	BlobRef      string    `json:"blob_ref"`
	AttemptCount int       `json:"attempt_count"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}
