package bus

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process Bus. Slow subscribers miss messages rather than
// blocking publishers.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string][]chan Message
	buffer int
	closed bool
	done   chan struct{}
}

// NewMemory creates an in-process bus with the given per-subscriber buffer.
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 256
	}
	return &Memory{subs: make(map[string][]chan Message), buffer: buffer, done: make(chan struct{})}
}

func (m *Memory) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	ch := make(chan Message, m.buffer)
	for _, c := range channels {
		m.subs[c] = append(m.subs[c], ch)
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-m.done:
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, c := range channels {
			m.subs[c] = slices.DeleteFunc(m.subs[c], func(s chan Message) bool { return s == ch })
		}
		close(ch)
	}()
	return ch, nil
}

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	msg := Message{Channel: channel, Payload: payload}
	for _, ch := range m.subs[channel] {
		select {
		case ch <- msg:
		default:
			// drop if subscriber is slow; keep publishers non-blocking
		}
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}
