package upload

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vidsecure/pipeline/internal/config"
	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/pkg/models"
)

type fakeRepo struct {
	mu     sync.Mutex
	videos map[string]*models.Video
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{videos: make(map[string]*models.Video)}
}

func (r *fakeRepo) CreateVideo(ctx context.Context, video *models.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *video
	r.videos[video.ID] = &copied
	return nil
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

func (r *fakeRepo) SetBlobRef(ctx context.Context, id, blobRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	video, ok := r.videos[id]
	if !ok {
		return &models.NotFoundError{VideoID: id}
	}
	video.BlobRef = blobRef
	return nil
}

func (r *fakeRepo) setStatus(id string, status models.VideoStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if video, ok := r.videos[id]; ok {
		video.Status = status
	}
}

type fakeStore struct {
	mu       sync.Mutex
	chunks   map[string]map[int64][]byte
	composed map[string]bool
	removed  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chunks:   make(map[string]map[int64][]byte),
		composed: make(map[string]bool),
		removed:  make(map[string]bool),
	}
}

func (s *fakeStore) PutChunk(ctx context.Context, videoID string, offset int64, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunks[videoID] == nil {
		s.chunks[videoID] = make(map[int64][]byte)
	}
	s.chunks[videoID][offset] = data
	return nil
}

func (s *fakeStore) ComposeBlob(ctx context.Context, videoID string, offsets []int64, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.composed[videoID] = true
	return "videos/" + videoID + "/source", nil
}

func (s *fakeStore) RemoveUpload(ctx context.Context, videoID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[videoID] = true
	delete(s.chunks, videoID)
	return nil
}

type fakeLifecycle struct {
	mu        sync.Mutex
	repo      *fakeRepo
	completed []string
	failed    map[string]string
	progress  map[string]int
}

func newFakeLifecycle(repo *fakeRepo) *fakeLifecycle {
	return &fakeLifecycle{
		repo:     repo,
		failed:   make(map[string]string),
		progress: make(map[string]int),
	}
}

func (l *fakeLifecycle) CompleteUpload(ctx context.Context, id string) (*models.Video, error) {
	video, err := l.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if video.Status != models.VideoStatusUploading {
		return nil, &models.OrderingConflictError{VideoID: id, From: video.Status, Event: "upload-complete"}
	}

	l.repo.setStatus(id, models.VideoStatusProcessing)
	video.Status = models.VideoStatusProcessing

	l.mu.Lock()
	l.completed = append(l.completed, id)
	l.mu.Unlock()
	return video, nil
}

func (l *fakeLifecycle) FailUpload(ctx context.Context, id, reason string) (*models.Video, error) {
	video, err := l.repo.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}

	l.repo.setStatus(id, models.VideoStatusError)
	video.Status = models.VideoStatusError

	l.mu.Lock()
	l.failed[id] = reason
	l.mu.Unlock()
	return video, nil
}

func (l *fakeLifecycle) RecordUploadProgress(ctx context.Context, id string, progress int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if progress > l.progress[id] {
		l.progress[id] = progress
	}
	return nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []string
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, video *models.Video) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueued = append(e.enqueued, video.ID)
	return true, nil
}

func testConfig() config.UploadConfig {
	return config.UploadConfig{
		MaxSizeBytes:        100,
		ChunkSizeBytes:      10,
		StallTimeout:        10 * time.Minute,
		ReaperInterval:      time.Minute,
		AllowedContentTypes: []string{"video/mp4", "video/webm"},
	}
}

func setupCoordinator() (*Coordinator, *fakeRepo, *fakeStore, *fakeLifecycle, *fakeEnqueuer) {
	repo := newFakeRepo()
	store := newFakeStore()
	lc := newFakeLifecycle(repo)
	enq := &fakeEnqueuer{}
	coord := NewCoordinator(testConfig(), repo, store, lc, enq, logging.NewNop())
	return coord, repo, store, lc, enq
}

func TestInitiateValidation(t *testing.T) {
	coord, _, _, _, _ := setupCoordinator()
	ctx := context.Background()

	tests := []struct {
		name        string
		filename    string
		size        int64
		contentType string
	}{
		{"empty filename", "", 50, "video/mp4"},
		{"zero size", "a.mp4", 0, "video/mp4"},
		{"negative size", "a.mp4", -1, "video/mp4"},
		{"over max size", "a.mp4", 101, "video/mp4"},
		{"bad content type", "a.gif", 50, "image/gif"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.Initiate(ctx, "u1", tt.filename, "", "", tt.size, tt.contentType)
			if !models.IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestInitiateDefaultsTitle(t *testing.T) {
	coord, _, _, _, _ := setupCoordinator()

	video, err := coord.Initiate(context.Background(), "u1", "holiday clip.mp4", "", "", 50, "video/mp4")
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if video.Title != "holiday clip" {
		t.Errorf("Expected title from filename, got %q", video.Title)
	}
	if video.Status != models.VideoStatusUploading {
		t.Errorf("Expected status uploading, got %s", video.Status)
	}
	if video.ID == "" {
		t.Error("Video should get an ID")
	}
}

func TestInitiateKeepsExplicitTitle(t *testing.T) {
	coord, _, _, _, _ := setupCoordinator()

	video, err := coord.Initiate(context.Background(), "u1", "a.mp4", "My Title", "desc", 50, "video/mp4")
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}
	if video.Title != "My Title" {
		t.Errorf("Expected explicit title, got %q", video.Title)
	}
	if video.Description != "desc" {
		t.Errorf("Expected description, got %q", video.Description)
	}
}

func TestPutChunkProgress(t *testing.T) {
	coord, _, _, lc, _ := setupCoordinator()
	ctx := context.Background()

	video, err := coord.Initiate(ctx, "u1", "a.mp4", "", "", 30, "video/mp4")
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	progress, err := coord.PutChunk(ctx, video.ID, 0, bytes.NewReader(make([]byte, 10)), 10)
	if err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	if progress != 33 {
		t.Errorf("Expected progress 33, got %d", progress)
	}

	progress, err = coord.PutChunk(ctx, video.ID, 10, bytes.NewReader(make([]byte, 10)), 10)
	if err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	if progress != 66 {
		t.Errorf("Expected progress 66, got %d", progress)
	}

	if lc.progress[video.ID] != 66 {
		t.Errorf("Lifecycle should have seen progress 66, got %d", lc.progress[video.ID])
	}
}

func TestPutChunkIdempotent(t *testing.T) {
	coord, _, _, _, _ := setupCoordinator()
	ctx := context.Background()

	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 30, "video/mp4")

	// The same offset twice must not double-count received bytes.
	if _, err := coord.PutChunk(ctx, video.ID, 0, bytes.NewReader(make([]byte, 10)), 10); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}
	progress, err := coord.PutChunk(ctx, video.ID, 0, bytes.NewReader(make([]byte, 10)), 10)
	if err != nil {
		t.Fatalf("Retried chunk should succeed: %v", err)
	}
	if progress != 33 {
		t.Errorf("Retried chunk must not advance progress, got %d", progress)
	}
}

func TestPutChunkRejectsBadOffsets(t *testing.T) {
	coord, _, _, _, _ := setupCoordinator()
	ctx := context.Background()

	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 30, "video/mp4")

	tests := []struct {
		name   string
		offset int64
		size   int64
	}{
		{"negative offset", -10, 10},
		{"unaligned offset", 5, 10},
		{"offset past end", 30, 10},
		{"wrong chunk size", 0, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := coord.PutChunk(ctx, video.ID, tt.offset, bytes.NewReader(make([]byte, tt.size)), tt.size)
			if !models.IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestPutChunkShortTail(t *testing.T) {
	coord, _, _, _, _ := setupCoordinator()
	ctx := context.Background()

	// 25 bytes with 10-byte chunks: the tail chunk is 5 bytes.
	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 25, "video/mp4")

	if _, err := coord.PutChunk(ctx, video.ID, 20, bytes.NewReader(make([]byte, 5)), 5); err != nil {
		t.Fatalf("Tail chunk failed: %v", err)
	}
	if _, err := coord.PutChunk(ctx, video.ID, 20, bytes.NewReader(make([]byte, 10)), 10); !models.IsValidation(err) {
		t.Errorf("Full-size tail chunk should be rejected, got %v", err)
	}
}

func TestPutChunkUnknownVideo(t *testing.T) {
	coord, _, _, _, _ := setupCoordinator()

	_, err := coord.PutChunk(context.Background(), "missing", 0, strings.NewReader("x"), 1)
	if !models.IsNotFound(err) {
		t.Fatalf("Expected not found, got %v", err)
	}
}

func uploadAll(t *testing.T, coord *Coordinator, videoID string, size, chunkSize int64) {
	t.Helper()
	for offset := int64(0); offset < size; offset += chunkSize {
		n := chunkSize
		if size-offset < chunkSize {
			n = size - offset
		}
		if _, err := coord.PutChunk(context.Background(), videoID, offset, bytes.NewReader(make([]byte, n)), n); err != nil {
			t.Fatalf("PutChunk at %d failed: %v", offset, err)
		}
	}
}

func TestCompleteUpload(t *testing.T) {
	coord, repo, store, lc, enq := setupCoordinator()
	ctx := context.Background()

	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 30, "video/mp4")
	uploadAll(t, coord, video.ID, 30, 10)

	completed, err := coord.Complete(ctx, video.ID)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if completed.Status != models.VideoStatusProcessing {
		t.Errorf("Expected status processing, got %s", completed.Status)
	}

	if !store.composed[video.ID] {
		t.Error("Blob should be composed")
	}
	if !store.removed[video.ID] {
		t.Error("Staged chunks should be removed after finalization")
	}

	stored, _ := repo.GetVideo(ctx, video.ID)
	if stored.BlobRef == "" {
		t.Error("Blob ref should be recorded")
	}

	if len(lc.completed) != 1 {
		t.Errorf("Expected exactly one upload-complete, got %d", len(lc.completed))
	}
	if len(enq.enqueued) != 1 || enq.enqueued[0] != video.ID {
		t.Errorf("Expected exactly one enqueued job, got %v", enq.enqueued)
	}
}

func TestCompleteRejectsMissingChunks(t *testing.T) {
	coord, _, _, _, enq := setupCoordinator()
	ctx := context.Background()

	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 30, "video/mp4")
	if _, err := coord.PutChunk(ctx, video.ID, 0, bytes.NewReader(make([]byte, 10)), 10); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	_, err := coord.Complete(ctx, video.ID)
	if !models.IsValidation(err) {
		t.Fatalf("Expected validation error for incomplete upload, got %v", err)
	}
	if len(enq.enqueued) != 0 {
		t.Error("Incomplete upload must not enqueue a job")
	}
}

func TestDoubleCompleteIsConflict(t *testing.T) {
	coord, _, _, lc, enq := setupCoordinator()
	ctx := context.Background()

	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 20, "video/mp4")
	uploadAll(t, coord, video.ID, 20, 10)

	if _, err := coord.Complete(ctx, video.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	_, err := coord.Complete(ctx, video.ID)
	if !models.IsOrderingConflict(err) {
		t.Fatalf("Second complete should conflict, got %v", err)
	}

	if len(lc.completed) != 1 {
		t.Errorf("Expected one transition, got %d", len(lc.completed))
	}
	if len(enq.enqueued) != 1 {
		t.Errorf("Expected one job, got %d", len(enq.enqueued))
	}
}

func TestChunkAfterFinalizeRejected(t *testing.T) {
	coord, _, _, _, _ := setupCoordinator()
	ctx := context.Background()

	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 20, "video/mp4")
	uploadAll(t, coord, video.ID, 20, 10)

	if _, err := coord.Complete(ctx, video.ID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	// The session is gone; further chunks hit not-found.
	_, err := coord.PutChunk(ctx, video.ID, 0, bytes.NewReader(make([]byte, 10)), 10)
	if !models.IsNotFound(err) {
		t.Fatalf("Chunk after finalize should fail, got %v", err)
	}
}

func TestForgetDropsSession(t *testing.T) {
	coord, _, store, _, _ := setupCoordinator()
	ctx := context.Background()

	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 20, "video/mp4")
	if _, err := coord.PutChunk(ctx, video.ID, 0, bytes.NewReader(make([]byte, 10)), 10); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	coord.Forget(ctx, video.ID)

	if !store.removed[video.ID] {
		t.Error("Forget should remove staged chunks")
	}
	if _, err := coord.PutChunk(ctx, video.ID, 10, bytes.NewReader(make([]byte, 10)), 10); !models.IsNotFound(err) {
		t.Errorf("Session should be gone, got %v", err)
	}
}

func TestReapStaleUploads(t *testing.T) {
	coord, _, store, lc, _ := setupCoordinator()
	ctx := context.Background()

	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 20, "video/mp4")

	// Age the session past the stall timeout.
	coord.mu.Lock()
	coord.sessions[video.ID].lastActivity = time.Now().Add(-time.Hour)
	coord.mu.Unlock()

	coord.reapStale(ctx)

	if lc.failed[video.ID] != "upload abandoned" {
		t.Errorf("Abandoned upload should fail with reason, got %q", lc.failed[video.ID])
	}
	if !store.removed[video.ID] {
		t.Error("Abandoned upload should release staged chunks")
	}

	// The session is gone after reaping.
	if _, err := coord.PutChunk(ctx, video.ID, 0, bytes.NewReader(make([]byte, 10)), 10); !models.IsNotFound(err) {
		t.Errorf("Expected not found after reap, got %v", err)
	}
}

func TestReapSkipsActiveUploads(t *testing.T) {
	coord, _, _, lc, _ := setupCoordinator()
	ctx := context.Background()

	video, _ := coord.Initiate(ctx, "u1", "a.mp4", "", "", 20, "video/mp4")

	coord.reapStale(ctx)

	if _, failed := lc.failed[video.ID]; failed {
		t.Error("Fresh upload must not be reaped")
	}
	if _, err := coord.PutChunk(ctx, video.ID, 0, bytes.NewReader(make([]byte, 10)), 10); err != nil {
		t.Errorf("Session should survive the reaper: %v", err)
	}
}
