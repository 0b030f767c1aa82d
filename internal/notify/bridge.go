package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vidsecure/pipeline/internal/config"
	"github.com/vidsecure/pipeline/internal/logging"
	"github.com/vidsecure/pipeline/internal/metrics"
	"github.com/vidsecure/pipeline/pkg/models"
)

const channelPrefix = "events:"

// Bridge relays pipeline events across processes through Redis pub/sub.
// Workers and the API publish on it; each API instance runs a subscription
// that feeds its local hub. Publish order on one connection is preserved,
// which keeps per-video ordering intact.
type Bridge struct {
	client *redis.Client
	log    *logging.Logger
}

// NewBridge creates a bridge with its own Redis connection
func NewBridge(cfg config.RedisConfig, log *logging.Logger) (*Bridge, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Bridge{client: client, log: log}, nil
}

// Close closes the Redis connection
func (b *Bridge) Close() error {
	return b.client.Close()
}

// Publish sends an event onto the owning user's channel
func (b *Bridge) Publish(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, channelPrefix+event.OwnerID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	metrics.EventsPublishedTotal.Inc()
	return nil
}

// Run subscribes to all user channels and feeds the hub until the context
// is cancelled
func (b *Bridge) Run(ctx context.Context, hub *Hub) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.log.ErrorWithErr("Failed to decode event payload", err)
				continue
			}

			hub.Broadcast(&event)
		}
	}
}
