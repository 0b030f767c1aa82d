package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/vidsecure/pipeline/internal/config"
)

// Storage is the blob store for raw video bytes. Uploads are staged as one
// object per chunk and composed into the final blob on completion, so a
// retried chunk simply overwrites its staged object.
type Storage struct {
	client     *minio.Client
	bucketName string
}

// New creates a new storage client
func New(cfg config.StorageConfig) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{
			Region: cfg.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &Storage{
		client:     client,
		bucketName: cfg.BucketName,
	}, nil
}

// ChunkKey returns the staging key for one chunk of a video upload.
// Offsets are zero-padded so lexical order equals byte order.
func ChunkKey(videoID string, offset int64) string {
	return fmt.Sprintf("uploads/%s/chunk_%015d", videoID, offset)
}

// BlobKey returns the key of a video's finalized source blob
func BlobKey(videoID string) string {
	return fmt.Sprintf("videos/%s/source", videoID)
}

// PutChunk stages one chunk of an upload. Writing the same offset twice is
// idempotent: the staged object is overwritten in place.
func (s *Storage) PutChunk(ctx context.Context, videoID string, offset int64, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, ChunkKey(videoID, offset), reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to stage chunk: %w", err)
	}

	return nil
}

// ComposeBlob assembles the staged chunks, in offset order, into the final
// blob and returns its key. The staged chunks are left for RemoveChunks.
func (s *Storage) ComposeBlob(ctx context.Context, videoID string, offsets []int64, contentType string) (string, error) {
	if len(offsets) == 0 {
		return "", fmt.Errorf("no chunks to compose")
	}

	sorted := make([]int64, len(offsets))
	copy(sorted, offsets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	srcs := make([]minio.CopySrcOptions, 0, len(sorted))
	for _, offset := range sorted {
		srcs = append(srcs, minio.CopySrcOptions{
			Bucket: s.bucketName,
			Object: ChunkKey(videoID, offset),
		})
	}

	blobKey := BlobKey(videoID)
	dst := minio.CopyDestOptions{
		Bucket:          s.bucketName,
		Object:          blobKey,
		ReplaceMetadata: true,
		UserMetadata:    map[string]string{"content-type": contentType},
	}

	if _, err := s.client.ComposeObject(ctx, dst, srcs...); err != nil {
		return "", fmt.Errorf("failed to compose blob: %w", err)
	}

	return blobKey, nil
}

// Download opens the blob for reading
func (s *Storage) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download object: %w", err)
	}

	return object, nil
}

// Delete deletes an object from storage
func (s *Storage) Delete(ctx context.Context, objectName string) error {
	err := s.client.RemoveObject(ctx, s.bucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

// RemoveUpload deletes every staged chunk of a video upload
func (s *Storage) RemoveUpload(ctx context.Context, videoID string) error {
	prefix := fmt.Sprintf("uploads/%s/", videoID)

	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return fmt.Errorf("failed to list staged chunks: %w", object.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucketName, object.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to delete staged chunk %s: %w", object.Key, err)
		}
	}

	return nil
}

// RemoveBlob deletes a video's finalized blob, if present
func (s *Storage) RemoveBlob(ctx context.Context, videoID string) error {
	return s.Delete(ctx, BlobKey(videoID))
}
