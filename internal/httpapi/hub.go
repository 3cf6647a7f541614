package httpapi

import (
	"sync"

	"github.com/google/uuid"

	"cisessiond/internal/session"
)

// Event is one lifecycle notification broadcast to SSE subscribers.
type Event struct {
	ID         string `json:"id"`
	Reason     string `json:"reason"`
	SlotID     uint8  `json:"slotId"`
	SessionNb  uint16 `json:"sessionNb"`
	ResourceID uint32 `json:"resourceId"`
}

// Hub fans lifecycle events out to any number of SSE subscribers. It is
// meant to be called from inside the daemon's own session.SessionCallback,
// alongside whatever business logic that callback performs — Hub itself
// never vetoes anything.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Record publishes a lifecycle event to every current subscriber. Slow
// subscribers are dropped rather than allowed to block publication.
func (h *Hub) Record(reason session.LifecycleReason, slotID uint8, sessionNb uint16, resourceID uint32) {
	ev := Event{
		ID:         uuid.NewString(),
		Reason:     reason.String(),
		SlotID:     slotID,
		SessionNb:  sessionNb,
		ResourceID: resourceID,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Subscribe registers a new SSE subscriber and returns its event channel
// and an unsubscribe function the caller must invoke when done.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}
