// Package venue defines the contract between the gateway core and a trading
// venue's REST and push-streaming endpoints.
package venue

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrMissingCredentials = errors.New("venue: api key/secret required")
	ErrMissingToken       = errors.New("venue: access token missing from response")
	ErrFeedClosed         = errors.New("venue: feed closed")
)

// Venue is the per-tenant handle onto a trading venue.
type Venue interface {
	Name() string
	LoginURL() string
	Authenticate(ctx context.Context, requestToken string) (Session, error)
	Trader(accessToken string) Trader
	Streamer(accessToken string) Streamer
}

// Trader issues authenticated REST calls.
type Trader interface {
	PlaceOrder(ctx context.Context, p OrderParams) (OrderAck, error)
	ModifyOrder(ctx context.Context, orderID string, p OrderParams) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) (OrderAck, error)
	Orders(ctx context.Context) ([]Payload, error)
	OrderHistory(ctx context.Context, orderID string) ([]Payload, error)
	Holdings(ctx context.Context) ([]Payload, error)
	Positions(ctx context.Context) (PositionBook, error)
}

// Streamer opens push connections.
type Streamer interface {
	Connect(ctx context.Context) (Feed, error)
}

// Feed is one live push connection. Orders, Ticks and Lifecycle are closed
// once the connection has ended; the last lifecycle event is always
// LifecycleDisconnected.
type Feed interface {
	Orders() <-chan Payload
	Ticks() <-chan Tick
	Lifecycle() <-chan Lifecycle
	Subscribe(tokens []uint32, mode string) error
	Close() error
}

// Factory builds a Venue for one tenant.
type Factory func(creds Credentials) (Venue, error)

// Error is a rejected venue call.
type Error struct {
	Status  int    // transport status, 0 when not applicable
	Code    string // venue error classification
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// AsError reports whether err is a venue rejection.
func AsError(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
