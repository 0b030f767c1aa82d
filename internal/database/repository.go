package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vidsecure/pipeline/pkg/models"
)

const videoColumns = `id, owner_id, filename, title, description, size_bytes, duration_seconds,
	       status, upload_progress, processing_progress, flag_reason, error_reason,
	       blob_ref, created_at, updated_at`

// Repository provides database operations over the video entity set
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health checks the underlying database connection
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

func scanVideo(row pgx.Row) (*models.Video, error) {
	var video models.Video
	err := row.Scan(
		&video.ID, &video.OwnerID, &video.Filename, &video.Title, &video.Description,
		&video.SizeBytes, &video.DurationSeconds, &video.Status, &video.UploadProgress,
		&video.ProcessingProgress, &video.FlagReason, &video.ErrorReason,
		&video.BlobRef, &video.CreatedAt, &video.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &video, nil
}

// CreateVideo creates a new video record
func (r *Repository) CreateVideo(ctx context.Context, video *models.Video) error {
	if video.ID == "" {
		video.ID = uuid.New().String()
	}
	if video.Status == "" {
		video.Status = models.VideoStatusUploading
	}

	query := `
		INSERT INTO videos (id, owner_id, filename, title, description, size_bytes, status,
		                    upload_progress, processing_progress, blob_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		video.ID, video.OwnerID, video.Filename, video.Title, video.Description,
		video.SizeBytes, video.Status, video.UploadProgress, video.ProcessingProgress,
		video.BlobRef,
	).Scan(&video.CreatedAt, &video.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo retrieves a video by ID
func (r *Repository) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = $1`

	video, err := scanVideo(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.NotFoundError{VideoID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return video, nil
}

// ListFilter narrows and pages a video listing
type ListFilter struct {
	Status  models.VideoStatus
	OwnerID string
	Page    int
	PerPage int
}

// ListVideos retrieves videos matching the filter, newest first, together
// with the total match count for pagination
func (r *Repository) ListVideos(ctx context.Context, filter ListFilter) ([]*models.Video, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 || filter.PerPage > 100 {
		filter.PerPage = 20
	}

	where := " WHERE 1=1"
	args := []interface{}{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		where += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}

	var total int
	if err := r.db.Pool.QueryRow(ctx, "SELECT count(*) FROM videos"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count videos: %w", err)
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	query := fmt.Sprintf("SELECT %s FROM videos%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		videoColumns, where, len(args)-1, len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, video)
	}

	return videos, total, nil
}

// UpdateMetadata updates the user-editable metadata of a video
func (r *Repository) UpdateMetadata(ctx context.Context, id, title, description string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE videos SET title = $2, description = $3, updated_at = now() WHERE id = $1`,
		id, title, description,
	)
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{VideoID: id}
	}
	return nil
}

// SetBlobRef records the finalized blob reference for a video
func (r *Repository) SetBlobRef(ctx context.Context, id, blobRef string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE videos SET blob_ref = $2, updated_at = now() WHERE id = $1`,
		id, blobRef,
	)
	if err != nil {
		return fmt.Errorf("failed to set blob ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{VideoID: id}
	}
	return nil
}

// CompareAndSetStatus commits a status transition atomically: the row is
// updated only while its status still equals from. On a lost race or a late
// delivery it returns an OrderingConflictError carrying the current status.
func (r *Repository) CompareAndSetStatus(ctx context.Context, id, event string, from, to models.VideoStatus, patch models.StatusPatch) (*models.Video, error) {
	query := `
		UPDATE videos
		SET status = $3,
		    flag_reason = CASE WHEN $4 <> '' THEN $4 ELSE flag_reason END,
		    error_reason = CASE WHEN $5 <> '' THEN $5 ELSE error_reason END,
		    duration_seconds = COALESCE($6, duration_seconds),
		    processing_progress = CASE WHEN $3 IN ('safe', 'flagged') THEN 100 ELSE processing_progress END,
		    updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + videoColumns

	video, err := scanVideo(r.db.Pool.QueryRow(ctx, query,
		id, from, to, patch.FlagReason, patch.ErrorReason, patch.DurationSeconds,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		current, gerr := r.GetVideo(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &models.OrderingConflictError{VideoID: id, From: current.Status, Event: event}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition video: %w", err)
	}

	return video, nil
}

// BumpUploadProgress raises upload progress to at most the given value while
// the video is still uploading. Progress never regresses; a late tick after
// the upload finished is a silent no-op (nil video, nil error).
func (r *Repository) BumpUploadProgress(ctx context.Context, id string, progress int) (*models.Video, error) {
	query := `
		UPDATE videos
		SET upload_progress = GREATEST(upload_progress, LEAST($2, 100)), updated_at = now()
		WHERE id = $1 AND status = 'uploading'
		RETURNING ` + videoColumns

	video, err := scanVideo(r.db.Pool.QueryRow(ctx, query, id, progress))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := r.GetVideo(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update upload progress: %w", err)
	}

	return video, nil
}

// BumpProcessingProgress raises processing progress to at most the given
// value while the video is still processing. Same no-regress semantics as
// BumpUploadProgress.
func (r *Repository) BumpProcessingProgress(ctx context.Context, id string, progress int) (*models.Video, error) {
	query := `
		UPDATE videos
		SET processing_progress = GREATEST(processing_progress, LEAST($2, 100)), updated_at = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + videoColumns

	video, err := scanVideo(r.db.Pool.QueryRow(ctx, query, id, progress))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := r.GetVideo(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update processing progress: %w", err)
	}

	return video, nil
}

// DeleteVideo removes a video record
func (r *Repository) DeleteVideo(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM videos WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &models.NotFoundError{VideoID: id}
	}
	return nil
}

// StatusCounts returns the number of videos per status
func (r *Repository) StatusCounts(ctx context.Context) (map[models.VideoStatus]int, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT status, count(*) FROM videos GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.VideoStatus]int)
	for rows.Next() {
		var status models.VideoStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}

	return counts, nil
}
