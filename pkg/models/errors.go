package models

import (
	"errors"
	"fmt"
)

// ValidationError rejects a request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an operation on an unknown or deleted video.
type NotFoundError struct {
	VideoID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("video %s not found", e.VideoID)
}

// OrderingConflictError reports a transition attempted from a state that no
// longer allows it, typically a late or duplicate delivery. Callers log and
// discard it; it never crashes the engine.
type OrderingConflictError struct {
	VideoID string
	From    VideoStatus
	Event   string
}

func (e *OrderingConflictError) Error() string {
	return fmt.Sprintf("video %s: event %q not allowed from status %q", e.VideoID, e.Event, e.From)
}

// TransientInfraError marks a failure of queue, blob store or classifier
// that is worth retrying with backoff.
type TransientInfraError struct {
	Op  string
	Err error
}

func (e *TransientInfraError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientInfraError) Unwrap() error {
	return e.Err
}

// PermanentMediaError marks media the classifier can never score, such as a
// corrupt or unreadable file. It consumes no retry budget.
type PermanentMediaError struct {
	Reason string
	Err    error
}

func (e *PermanentMediaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PermanentMediaError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsOrderingConflict reports whether err is an OrderingConflictError.
func IsOrderingConflict(err error) bool {
	var oc *OrderingConflictError
	return errors.As(err, &oc)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientInfraError
	return errors.As(err, &te)
}

// IsPermanentMedia reports whether err is a PermanentMediaError.
func IsPermanentMedia(err error) bool {
	var pe *PermanentMediaError
	return errors.As(err, &pe)
}
