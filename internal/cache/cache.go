package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vidsecure/pipeline/pkg/models"
)

// Cache provides caching and coordination primitives backed by Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Video Cache Operations

// SetVideo caches a video entity
func (c *Cache) SetVideo(ctx context.Context, video *models.Video, ttl time.Duration) error {
	data, err := json.Marshal(video)
	if err != nil {
		return fmt.Errorf("failed to marshal video: %w", err)
	}

	key := fmt.Sprintf("video:%s", video.ID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetVideo retrieves a video entity from cache; nil on cache miss
func (c *Cache) GetVideo(ctx context.Context, videoID string) (*models.Video, error) {
	key := fmt.Sprintf("video:%s", videoID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get video from cache: %w", err)
	}

	var video models.Video
	if err := json.Unmarshal(data, &video); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}

	return &video, nil
}

// DeleteVideo removes a video entity from cache
func (c *Cache) DeleteVideo(ctx context.Context, videoID string) error {
	key := fmt.Sprintf("video:%s", videoID)
	return c.client.Del(ctx, key).Err()
}

// Active Job Markers
//
// The marker enforces the at-most-one-active-job-per-video invariant:
// enqueue takes it with SETNX, the worker releases it when the job reaches
// a terminal outcome. The TTL is a safety valve for crashed workers.

// AcquireJobMarker attempts to take the active-job marker for a video
func (c *Cache) AcquireJobMarker(ctx context.Context, videoID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("job:active:%s", videoID)
	ok, err := c.client.SetNX(ctx, key, time.Now().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire job marker: %w", err)
	}
	return ok, nil
}

// ReleaseJobMarker releases the active-job marker for a video
func (c *Cache) ReleaseJobMarker(ctx context.Context, videoID string) error {
	key := fmt.Sprintf("job:active:%s", videoID)
	return c.client.Del(ctx, key).Err()
}

// HasJobMarker reports whether a video currently has an active job
func (c *Cache) HasJobMarker(ctx context.Context, videoID string) (bool, error) {
	key := fmt.Sprintf("job:active:%s", videoID)
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Cancellation Flags
//
// Deleting a video mid-processing sets the flag; the leased worker checks
// it after the classifier returns and discards the verdict.

// SetCancelFlag marks a video as cancelled
func (c *Cache) SetCancelFlag(ctx context.Context, videoID string, ttl time.Duration) error {
	key := fmt.Sprintf("cancel:%s", videoID)
	return c.client.Set(ctx, key, "1", ttl).Err()
}

// IsCancelled reports whether a video's cancellation flag is set
func (c *Cache) IsCancelled(ctx context.Context, videoID string) (bool, error) {
	key := fmt.Sprintf("cancel:%s", videoID)
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearCancelFlag removes a video's cancellation flag
func (c *Cache) ClearCancelFlag(ctx context.Context, videoID string) error {
	key := fmt.Sprintf("cancel:%s", videoID)
	return c.client.Del(ctx, key).Err()
}

// Client exposes the underlying Redis client for pub/sub consumers
func (c *Cache) Client() *redis.Client {
	return c.client
}
