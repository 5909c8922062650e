// Package events publishes gateway envelopes onto the bus and mirrors them
// to in-process observers such as the admin websocket.
package events

import (
	"sync"
)

// Hub is a lightweight in-process fan-out of published envelopes.
type Hub struct {
	mu   sync.RWMutex
	subs []chan Envelope
}

// Envelope is one published message as seen by local observers.
type Envelope struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers a listener and returns its channel and an unsubscribe function.
func (h *Hub) Subscribe(buffer int) (<-chan Envelope, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Envelope, buffer)
	h.subs = append(h.subs, ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, c := range h.subs {
				if c == ch {
					close(c)
					h.subs = append(h.subs[:i], h.subs[i+1:]...)
					break
				}
			}
		})
	}
	return ch, unsub
}

// Publish fans out to listeners without blocking.
func (h *Hub) Publish(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- env:
		default:
			// drop if subscriber is slow; keep publishers non-blocking
		}
	}
}

// Len returns the number of listeners.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
