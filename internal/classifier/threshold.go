package classifier

import (
	"context"
	"fmt"
)

// Threshold wraps a scorer with the fail-closed confidence policy: a safe
// verdict below the configured confidence is downgraded to flagged, biasing
// toward manual review over silent pass-through.
type Threshold struct {
	scorer Scorer
	min    float64
}

// NewThreshold wraps a scorer with a minimum-confidence gate
func NewThreshold(scorer Scorer, min float64) *Threshold {
	return &Threshold{scorer: scorer, min: min}
}

// Score delegates to the wrapped scorer and applies the fail-closed policy
func (t *Threshold) Score(ctx context.Context, blobRef string) (*Verdict, error) {
	verdict, err := t.scorer.Score(ctx, blobRef)
	if err != nil {
		return nil, err
	}

	if verdict.Verdict == VerdictSafe && verdict.Confidence < t.min {
		verdict.Verdict = VerdictFlagged
		verdict.Reason = fmt.Sprintf("%s (confidence %.2f below threshold %.2f)",
			DefaultReviewReason, verdict.Confidence, t.min)
	}

	if verdict.Verdict == VerdictFlagged && verdict.Reason == "" {
		verdict.Reason = DefaultReviewReason
	}

	return verdict, nil
}
