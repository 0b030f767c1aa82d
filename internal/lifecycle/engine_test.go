package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/pkg/models"
)

type fakeRepo struct {
	mu     sync.Mutex
	videos map[string]*models.Video
}

func newFakeRepo(videos ...*models.Video) *fakeRepo {
	repo := &fakeRepo{videos: make(map[string]*models.Video)}
	for _, v := range videos {
		repo.videos[v.ID] = v
	}
	return repo
}

func (r *fakeRepo) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	video, ok := r.videos[id]
	if !ok {
		return nil, &models.NotFoundError{VideoID: id}
	}
	copied := *video
	return &copied, nil
}

func (r *fakeRepo) CompareAndSetStatus(ctx context.Context, id, event string, from, to models.VideoStatus, patch models.StatusPatch) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	video, ok := r.videos[id]
	if !ok {
		return nil, &models.NotFoundError{VideoID: id}
	}
	if video.Status != from {
		return nil, &models.OrderingConflictError{VideoID: id, From: video.Status, Event: event}
	}

	video.Status = to
	if patch.FlagReason != "" {
		video.FlagReason = patch.FlagReason
	}
	if patch.ErrorReason != "" {
		video.ErrorReason = patch.ErrorReason
	}
	if patch.DurationSeconds != nil {
		video.DurationSeconds = patch.DurationSeconds
	}
	if to == models.VideoStatusSafe || to == models.VideoStatusFlagged {
		video.ProcessingProgress = 100
	}

	copied := *video
	return &copied, nil
}

func (r *fakeRepo) BumpUploadProgress(ctx context.Context, id string, progress int) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	video, ok := r.videos[id]
	if !ok {
		return nil, &models.NotFoundError{VideoID: id}
	}
	if video.Status != models.VideoStatusUploading {
		return nil, nil
	}
	if progress > 100 {
		progress = 100
	}
	if progress > video.UploadProgress {
		video.UploadProgress = progress
	}

	copied := *video
	return &copied, nil
}

func (r *fakeRepo) BumpProcessingProgress(ctx context.Context, id string, progress int) (*models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	video, ok := r.videos[id]
	if !ok {
		return nil, &models.NotFoundError{VideoID: id}
	}
	if video.Status != models.VideoStatusProcessing {
		return nil, nil
	}
	if progress > 100 {
		progress = 100
	}
	if progress > video.ProcessingProgress {
		video.ProcessingProgress = progress
	}

	copied := *video
	return &copied, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []*models.Event
}

func (n *fakeNotifier) Publish(ctx context.Context, event *models.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) all() []*models.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*models.Event(nil), n.events...)
}

type fakeInvalidator struct {
	mu      sync.Mutex
	deleted []string
}

func (i *fakeInvalidator) DeleteVideo(ctx context.Context, videoID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleted = append(i.deleted, videoID)
	return nil
}

func setupEngine(videos ...*models.Video) (*Engine, *fakeRepo, *fakeNotifier, *fakeInvalidator) {
	repo := newFakeRepo(videos...)
	notifier := &fakeNotifier{}
	invalidator := &fakeInvalidator{}
	engine := NewEngine(repo, notifier, invalidator, logging.NewNop())
	return engine, repo, notifier, invalidator
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    models.VideoStatus
		to      models.VideoStatus
		allowed bool
	}{
		{models.VideoStatusUploading, models.VideoStatusProcessing, true},
		{models.VideoStatusUploading, models.VideoStatusError, true},
		{models.VideoStatusUploading, models.VideoStatusSafe, false},
		{models.VideoStatusProcessing, models.VideoStatusSafe, true},
		{models.VideoStatusProcessing, models.VideoStatusFlagged, true},
		{models.VideoStatusProcessing, models.VideoStatusError, true},
		{models.VideoStatusProcessing, models.VideoStatusUploading, false},
		{models.VideoStatusSafe, models.VideoStatusFlagged, false},
		{models.VideoStatusSafe, models.VideoStatusProcessing, false},
		{models.VideoStatusFlagged, models.VideoStatusSafe, false},
		{models.VideoStatusError, models.VideoStatusProcessing, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.allowed {
			t.Errorf("CanTransition(%s, %s): expected %v, got %v", tt.from, tt.to, tt.allowed, got)
		}
	}
}

func TestCompleteUpload(t *testing.T) {
	engine, _, notifier, invalidator := setupEngine(&models.Video{
		ID:             "v1",
		OwnerID:        "u1",
		Status:         models.VideoStatusUploading,
		UploadProgress: 100,
	})

	video, err := engine.CompleteUpload(context.Background(), "v1")
	if err != nil {
		t.Fatalf("CompleteUpload failed: %v", err)
	}
	if video.Status != models.VideoStatusProcessing {
		t.Errorf("Expected status processing, got %s", video.Status)
	}

	events := notifier.all()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].Status != models.VideoStatusProcessing {
		t.Errorf("Event status: expected processing, got %s", events[0].Status)
	}
	if events[0].OwnerID != "u1" {
		t.Errorf("Event owner: expected u1, got %s", events[0].OwnerID)
	}

	if len(invalidator.deleted) != 1 || invalidator.deleted[0] != "v1" {
		t.Error("Cached video should be invalidated on commit")
	}
}

func TestCompleteUploadRejectsPartialUpload(t *testing.T) {
	engine, _, _, _ := setupEngine(&models.Video{
		ID:             "v1",
		Status:         models.VideoStatusUploading,
		UploadProgress: 60,
	})

	_, err := engine.CompleteUpload(context.Background(), "v1")
	if !models.IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
}

func TestMarkSafe(t *testing.T) {
	engine, _, _, _ := setupEngine(&models.Video{
		ID:     "v1",
		Status: models.VideoStatusProcessing,
	})

	duration := 123.5
	video, err := engine.MarkSafe(context.Background(), "v1", &duration)
	if err != nil {
		t.Fatalf("MarkSafe failed: %v", err)
	}
	if video.Status != models.VideoStatusSafe {
		t.Errorf("Expected status safe, got %s", video.Status)
	}
	if video.DurationSeconds == nil || *video.DurationSeconds != 123.5 {
		t.Error("Duration should be recorded with the verdict")
	}
	if video.ProcessingProgress != 100 {
		t.Errorf("Terminal verdict should finish the progress bar, got %d", video.ProcessingProgress)
	}
}

func TestMarkFlaggedRequiresReason(t *testing.T) {
	engine, repo, _, _ := setupEngine(&models.Video{
		ID:     "v1",
		Status: models.VideoStatusProcessing,
	})

	_, err := engine.MarkFlagged(context.Background(), "v1", "", nil)
	if !models.IsValidation(err) {
		t.Fatalf("Expected validation error for empty reason, got %v", err)
	}

	// The failed call must not have moved the video.
	video, _ := repo.GetVideo(context.Background(), "v1")
	if video.Status != models.VideoStatusProcessing {
		t.Errorf("Status should be unchanged, got %s", video.Status)
	}
}

func TestMarkFlaggedSetsReasonOnce(t *testing.T) {
	engine, _, _, _ := setupEngine(&models.Video{
		ID:     "v1",
		Status: models.VideoStatusProcessing,
	})

	video, err := engine.MarkFlagged(context.Background(), "v1", "Violence detected", nil)
	if err != nil {
		t.Fatalf("MarkFlagged failed: %v", err)
	}
	if video.FlagReason != "Violence detected" {
		t.Errorf("Expected flag reason, got %q", video.FlagReason)
	}

	// A second verdict loses the CAS race and cannot overwrite the reason.
	_, err = engine.MarkFlagged(context.Background(), "v1", "Other reason", nil)
	if !models.IsOrderingConflict(err) {
		t.Fatalf("Expected ordering conflict, got %v", err)
	}
}

func TestTerminalStatesRejectEvents(t *testing.T) {
	for _, status := range []models.VideoStatus{
		models.VideoStatusSafe,
		models.VideoStatusFlagged,
		models.VideoStatusError,
	} {
		engine, repo, _, _ := setupEngine(&models.Video{ID: "v1", Status: status, FlagReason: "x"})

		if _, err := engine.MarkSafe(context.Background(), "v1", nil); !models.IsOrderingConflict(err) {
			t.Errorf("Status %s: MarkSafe should conflict, got %v", status, err)
		}
		if _, err := engine.MarkFailed(context.Background(), "v1", "boom"); !models.IsOrderingConflict(err) {
			t.Errorf("Status %s: MarkFailed should conflict, got %v", status, err)
		}

		video, _ := repo.GetVideo(context.Background(), "v1")
		if video.Status != status {
			t.Errorf("Terminal status %s must be write-once, got %s", status, video.Status)
		}
	}
}

func TestFailUpload(t *testing.T) {
	engine, _, notifier, _ := setupEngine(&models.Video{
		ID:      "v1",
		OwnerID: "u1",
		Status:  models.VideoStatusUploading,
	})

	video, err := engine.FailUpload(context.Background(), "v1", "upload abandoned")
	if err != nil {
		t.Fatalf("FailUpload failed: %v", err)
	}
	if video.Status != models.VideoStatusError {
		t.Errorf("Expected status error, got %s", video.Status)
	}
	if video.ErrorReason != "upload abandoned" {
		t.Errorf("Expected error reason, got %q", video.ErrorReason)
	}

	events := notifier.all()
	if len(events) != 1 || events[0].ErrorReason != "upload abandoned" {
		t.Error("Event should carry the error reason")
	}
}

func TestRecordUploadProgress(t *testing.T) {
	engine, repo, notifier, _ := setupEngine(&models.Video{
		ID:      "v1",
		OwnerID: "u1",
		Status:  models.VideoStatusUploading,
	})

	ctx := context.Background()

	if err := engine.RecordUploadProgress(ctx, "v1", 40); err != nil {
		t.Fatalf("RecordUploadProgress failed: %v", err)
	}

	// Progress never regresses.
	if err := engine.RecordUploadProgress(ctx, "v1", 20); err != nil {
		t.Fatalf("RecordUploadProgress failed: %v", err)
	}

	video, _ := repo.GetVideo(ctx, "v1")
	if video.UploadProgress != 40 {
		t.Errorf("Expected progress 40, got %d", video.UploadProgress)
	}

	events := notifier.all()
	if len(events) != 2 {
		t.Fatalf("Expected 2 progress events, got %d", len(events))
	}
	if events[0].UploadProgress == nil || *events[0].UploadProgress != 40 {
		t.Error("First event should carry progress 40")
	}
	if events[1].UploadProgress == nil || *events[1].UploadProgress != 40 {
		t.Error("Second event should carry the clamped progress 40")
	}
}

func TestRecordUploadProgressLateTickDropped(t *testing.T) {
	engine, repo, notifier, _ := setupEngine(&models.Video{
		ID:             "v1",
		Status:         models.VideoStatusProcessing,
		UploadProgress: 100,
	})

	// The video left uploading; the tick is silently dropped.
	if err := engine.RecordUploadProgress(context.Background(), "v1", 80); err != nil {
		t.Fatalf("Late tick should not error: %v", err)
	}

	video, _ := repo.GetVideo(context.Background(), "v1")
	if video.UploadProgress != 100 {
		t.Errorf("Late tick must not touch progress, got %d", video.UploadProgress)
	}
	if len(notifier.all()) != 0 {
		t.Error("Late tick must not emit an event")
	}
}

func TestRecordProcessingProgressClamped(t *testing.T) {
	engine, repo, _, _ := setupEngine(&models.Video{
		ID:     "v1",
		Status: models.VideoStatusProcessing,
	})

	if err := engine.RecordProcessingProgress(context.Background(), "v1", 250); err != nil {
		t.Fatalf("RecordProcessingProgress failed: %v", err)
	}

	video, _ := repo.GetVideo(context.Background(), "v1")
	if video.ProcessingProgress != 100 {
		t.Errorf("Progress should clamp to 100, got %d", video.ProcessingProgress)
	}
}

func TestTransitionUnknownVideo(t *testing.T) {
	engine, _, _, _ := setupEngine()

	_, err := engine.MarkSafe(context.Background(), "missing", nil)
	if !models.IsNotFound(err) {
		t.Fatalf("Expected not found, got %v", err)
	}
}
