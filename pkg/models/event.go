package models

import (
	"time"
)

// Event is a pipeline notification delivered to the owning user's
// subscribers. Delivery is best-effort and at-most-once per connection;
// the query API remains the source of truth.
type Event struct {
	VideoID            string      `json:"video_id"`
	OwnerID            string      `json:"owner_id"`
	Status             VideoStatus `json:"status"`
	UploadProgress     *int        `json:"upload_progress,omitempty"`
	ProcessingProgress *int        `json:"processing_progress,omitempty"`
	FlagReason         string      `json:"flag_reason,omitempty"`
	ErrorReason        string      `json:"error_reason,omitempty"`
	Timestamp          time.Time   `json:"timestamp"`
}
