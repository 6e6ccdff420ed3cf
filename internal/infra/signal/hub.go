// Package signal carries fire-and-forget celebration events from the streak
// engine to whoever renders them (SSE feed, trophy checks). Emit never
// blocks: a slow or absent consumer drops events, it does not stall a
// recovery or a sweep.
package signal

import (
	"sync"

	"github.com/quillworks/quill/internal/domain"
)

const subscriberBuffer = 16

// Hub is an in-process pub/sub of celebrations, fanned out per user.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan domain.Celebration]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.Celebration]struct{})}
}

// Emit delivers c to every subscriber of c.UserID. Full subscriber buffers
// drop the event rather than block the emitter.
func (h *Hub) Emit(c domain.Celebration) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[c.UserID] {
		select {
		case ch <- c:
		default:
		}
	}
}

// Subscribe registers a listener for one user's celebrations. The returned
// cancel func must be called to release the subscription; the channel is
// closed by cancel.
func (h *Hub) Subscribe(userID string) (<-chan domain.Celebration, func()) {
	ch := make(chan domain.Celebration, subscriberBuffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan domain.Celebration]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
