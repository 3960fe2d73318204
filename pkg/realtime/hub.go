// Package realtime fans completed pipeline activity out to connected
// clients. Delivery is best effort: the event log is the source of truth and
// a client that misses a push can always re-query, so a slow subscriber is
// dropped rather than allowed to stall the pipeline.
package realtime

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noema-dev/noema-engine/pkg/models"
)

const subscriberBuffer = 16

// Hub tracks per-user subscribers and pushes event envelopes to them.
type Hub struct {
	mu          sync.Mutex
	subscribers map[uuid.UUID]map[chan models.Envelope]struct{}
	logger      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]map[chan models.Envelope]struct{}),
		logger:      logger.Named("realtime"),
	}
}

// Subscribe registers a new subscriber for a user's events. The returned
// cancel function must be called when the connection closes.
func (h *Hub) Subscribe(userID uuid.UUID) (<-chan models.Envelope, func()) {
	ch := make(chan models.Envelope, subscriberBuffer)

	h.mu.Lock()
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[chan models.Envelope]struct{})
	}
	h.subscribers[userID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.subscribers[userID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.subscribers, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish pushes an envelope to every subscriber of its user. A subscriber
// whose buffer is full misses the push; the pipeline never blocks on a slow
// reader.
func (h *Hub) Publish(envelope models.Envelope) {
	h.mu.Lock()
	subs := make([]chan models.Envelope, 0, len(h.subscribers[envelope.UserID]))
	for ch := range h.subscribers[envelope.UserID] {
		subs = append(subs, ch)
	}
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- envelope:
		default:
			h.logger.Debug("Dropping push to slow subscriber",
				zap.String("user_id", envelope.UserID.String()),
				zap.String("event_type", envelope.Type))
		}
	}
}

// SubscriberCount reports the user's active subscriber count.
func (h *Hub) SubscriberCount(userID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[userID])
}
