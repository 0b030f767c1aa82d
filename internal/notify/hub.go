package notify

import (
	"sync"

	"github.com/vidsecure/pipeline/internal/metrics"
	"github.com/vidsecure/pipeline/pkg/models"
)

// DefaultBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing events; delivery is at-most-once and
// the query API remains the source of truth.
const DefaultBuffer = 64

// Subscriber receives events for a single user over a buffered channel.
type Subscriber struct {
	ownerID string
	ch      chan *models.Event
}

// Events returns the subscriber's event channel
func (s *Subscriber) Events() <-chan *models.Event {
	return s.ch
}

// Hub fans pipeline events out to connected subscribers, scoped to the
// owning user. Broadcast never blocks: events for the same video arrive in
// emit order, but a slow subscriber drops rather than stalls the pipeline.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a subscriber for one user's events
func (h *Hub) Subscribe(ownerID string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	sub := &Subscriber{
		ownerID: ownerID,
		ch:      make(chan *models.Event, buffer),
	}

	h.mu.Lock()
	if h.subs[ownerID] == nil {
		h.subs[ownerID] = make(map[*Subscriber]struct{})
	}
	h.subs[ownerID][sub] = struct{}{}
	h.mu.Unlock()

	metrics.SubscribersActive.Inc()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sub.ownerID]; ok {
		if _, ok := set[sub]; ok {
			delete(set, sub)
			close(sub.ch)
			metrics.SubscribersActive.Dec()
		}
		if len(set) == 0 {
			delete(h.subs, sub.ownerID)
		}
	}
	h.mu.Unlock()
}

// Broadcast delivers an event to every subscriber of the owning user.
// Non-blocking: full subscriber buffers drop the event.
func (h *Hub) Broadcast(event *models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[event.OwnerID] {
		select {
		case sub.ch <- event:
		default:
			metrics.EventsDroppedTotal.Inc()
		}
	}
}
