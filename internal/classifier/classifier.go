package classifier

import (
	"context"
)

const (
	VerdictSafe    = "safe"
	VerdictFlagged = "flagged"
)

// DefaultReviewReason is attached to flagged verdicts that arrive without a
// reason of their own, including fail-closed downgrades.
const DefaultReviewReason = "Content requires review"

// Verdict is the scorer's decision for one video.
type Verdict struct {
	Verdict         string   `json:"verdict"`
	Confidence      float64  `json:"confidence"`
	Reason          string   `json:"reason,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

// Scorer scores stored media for content sensitivity. Implementations must
// honor the context deadline; failures are either a TransientInfraError
// (retry) or a PermanentMediaError (terminal, no retry budget consumed).
type Scorer interface {
	Score(ctx context.Context, blobRef string) (*Verdict, error)
}
