// Package bus carries commands and events between the OMS and the gateway.
// Delivery is best effort: messages published while nobody listens are lost.
package bus

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("bus: closed")

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Bus is a topic-addressed pub/sub transport.
type Bus interface {
	// Publish sends payload to channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe listens on channels until ctx is done or the bus is closed,
	// at which point the returned channel is closed.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
	Close() error
}
