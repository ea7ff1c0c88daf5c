// Package feed fans change signals out to every subscribed window.
package feed

import (
	"context"
	"sync"

	"controlroom/pkg/domain"
)

// Hub manages subscribers and coalescing broadcasts. Slow subscribers are
// never blocked on: a pending signal already requests a full re-read.
type Hub struct {
	mu      sync.Mutex
	clients map[chan domain.Signal]struct{}
	closed  bool
	done    chan struct{}
}

var _ domain.ChangeFeed = (*Hub)(nil)

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[chan domain.Signal]struct{}), done: make(chan struct{})}
}

// Subscribe registers a subscriber until ctx is cancelled or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context) (<-chan domain.Signal, error) {
	ch := make(chan domain.Signal, 1)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, nil
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			h.unregister(ch)
		case <-h.done:
		}
	}()
	return ch, nil
}

func (h *Hub) unregister(ch chan domain.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Broadcast delivers sig to every subscriber without blocking.
func (h *Hub) Broadcast(sig domain.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		domain.Notify(ch, sig)
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}
