package models

import (
	"time"
)

// VideoStatus is the lifecycle state of a video.
type VideoStatus string

const (
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusSafe       VideoStatus = "safe"
	VideoStatusFlagged    VideoStatus = "flagged"
	VideoStatusError      VideoStatus = "error"
)

// Valid reports whether s is a known status.
func (s VideoStatus) Valid() bool {
	switch s {
	case VideoStatusUploading, VideoStatusProcessing, VideoStatusSafe,
		VideoStatusFlagged, VideoStatusError:
		return true
	}
	return false
}

// Terminal reports whether s is a final state. Terminal states are
// write-once: no event may move a video out of one.
func (s VideoStatus) Terminal() bool {
	switch s {
	case VideoStatusSafe, VideoStatusFlagged, VideoStatusError:
		return true
	}
	return false
}

// Video represents a video in the moderation pipeline.
type Video struct {
	ID          string `json:"id" db:"id"`
	OwnerID     string `json:"owner_id" db:"owner_id"`
	Filename    string `json:"filename" db:"filename"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description,omitempty" db:"description"`

	// SizeBytes is the declared upload length; immutable once the upload
	// completes.
	SizeBytes       int64    `json:"size_bytes" db:"size_bytes"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty" db:"duration_seconds"`

	Status VideoStatus `json:"status" db:"status"`

	// Progress values are advisory telemetry, 0-100 and non-decreasing.
	UploadProgress     int `json:"upload_progress" db:"upload_progress"`
	ProcessingProgress int `json:"processing_progress" db:"processing_progress"`

	// FlagReason is set exactly once, by the classifier, and only when
	// Status is flagged.
	FlagReason string `json:"flag_reason,omitempty" db:"flag_reason"`

	// ErrorReason explains a terminal error status to the end user.
	ErrorReason string `json:"error_reason,omitempty" db:"error_reason"`

	// BlobRef points at the stored media object. The video owns the blob:
	// deleting the video deletes the blob.
	BlobRef string `json:"blob_ref,omitempty" db:"blob_ref"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// StatusPatch carries the fields that are written together with a status
// transition. Zero values leave the corresponding column untouched.
type StatusPatch struct {
	FlagReason      string
	ErrorReason     string
	DurationSeconds *float64
}
