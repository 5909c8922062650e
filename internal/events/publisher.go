package events

import (
	"context"
	"encoding/json"
	"fmt"

	"oms-gateway/internal/bus"
)

// Publisher encodes envelopes as JSON and sends them on the bus.
type Publisher struct {
	bus bus.Bus
	hub *Hub
}

// NewPublisher publishes on b and mirrors to hub when hub is non-nil.
func NewPublisher(b bus.Bus, hub *Hub) *Publisher {
	return &Publisher{bus: b, hub: hub}
}

// Publish marshals v and sends it to channel.
func (p *Publisher) Publish(ctx context.Context, channel string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %T: %w", v, err)
	}
	if p.hub != nil {
		p.hub.Publish(Envelope{Channel: channel, Data: json.RawMessage(payload)})
	}
	return p.bus.Publish(ctx, channel, payload)
}
