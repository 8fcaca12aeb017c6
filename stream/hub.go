// Package stream fans change notifications out to live SSE connections,
// one subscription list per owner.
package stream

import "sync"

// Hub tracks per-owner subscriber channels. Notifications are pokes, not
// payloads: subscribers re-read the task set when poked, so a dropped poke
// at worst coalesces with the next one.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe registers a listener for the owner's updates.
func (h *Hub) Subscribe(owner string) chan struct{} {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subs[owner]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[owner] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener. Safe to call after teardown started.
func (h *Hub) Unsubscribe(owner string, ch chan struct{}) {
	h.mu.Lock()
	if set, ok := h.subs[owner]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, owner)
		}
	}
	h.mu.Unlock()
}

// Subscribers reports how many listeners the owner currently has.
func (h *Hub) Subscribers(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[owner])
}

// Notify pokes every listener registered for the owner.
func (h *Hub) Notify(owner string) {
	h.mu.Lock()
	for ch := range h.subs[owner] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}
