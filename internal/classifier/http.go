package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vidsecure/pipeline/internal/config"
	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/pkg/models"
)

// HTTPScorer invokes an external content-sensitivity scoring service.
type HTTPScorer struct {
	endpoint string
	client   *http.Client
	log      *logging.Logger
}

// NewHTTPScorer creates a scorer client with a bounded request timeout
func NewHTTPScorer(cfg config.ClassifierConfig, log *logging.Logger) *HTTPScorer {
	return &HTTPScorer{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

type scoreRequest struct {
	BlobRef string `json:"blob_ref"`
}

// Score submits the blob reference to the scoring service and maps its
// failures onto the pipeline error taxonomy: 4xx means the media itself is
// unscorable (permanent), everything else is transient.
func (s *HTTPScorer) Score(ctx context.Context, blobRef string) (*Verdict, error) {
	body, err := json.Marshal(scoreRequest{BlobRef: blobRef})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &models.TransientInfraError{Op: "classifier request", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.TransientInfraError{Op: "classifier response read", Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to decode
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &models.PermanentMediaError{
			Reason: fmt.Sprintf("media rejected by classifier (%d): %s", resp.StatusCode, string(respBody)),
		}
	default:
		return nil, &models.TransientInfraError{
			Op:  "classifier request",
			Err: fmt.Errorf("scorer returned %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var verdict Verdict
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return nil, &models.TransientInfraError{Op: "classifier response decode", Err: err}
	}

	if verdict.Verdict != VerdictSafe && verdict.Verdict != VerdictFlagged {
		return nil, &models.TransientInfraError{
			Op:  "classifier response decode",
			Err: fmt.Errorf("unknown verdict %q", verdict.Verdict),
		}
	}

	return &verdict, nil
}
