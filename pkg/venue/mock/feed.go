package mock

import (
	"context"
	"sync"

	"oms-gateway/pkg/venue"
)

const feedBuffer = 64

type streamer struct {
	v     *Venue
	token string
}

func (s *streamer) Connect(ctx context.Context) (venue.Feed, error) {
	s.v.mu.Lock()
	err := s.v.connectErr
	s.v.mu.Unlock()
	if err == nil && s.token == "" {
		err = errToken
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = s.v.record(Call{Method: "Connect"})
		return nil, err
	}

	f := newFeed()
	s.v.mu.Lock()
	s.v.calls = append(s.v.calls, Call{Method: "Connect"})
	s.v.feeds = append(s.v.feeds, f)
	s.v.mu.Unlock()
	f.events <- venue.Lifecycle{Kind: venue.LifecycleConnected}
	return f, nil
}

// Subscription is one recorded Subscribe call.
type Subscription struct {
	Tokens []uint32
	Mode   string
}

// Feed is a scripted push connection.
type Feed struct {
	orders chan venue.Payload
	ticks  chan venue.Tick
	events chan venue.Lifecycle

	mu     sync.Mutex
	closed bool
	subs   []Subscription
}

func newFeed() *Feed {
	return &Feed{
		orders: make(chan venue.Payload, feedBuffer),
		ticks:  make(chan venue.Tick, feedBuffer),
		events: make(chan venue.Lifecycle, feedBuffer),
	}
}

func (f *Feed) Orders() <-chan venue.Payload       { return f.orders }
func (f *Feed) Ticks() <-chan venue.Tick           { return f.ticks }
func (f *Feed) Lifecycle() <-chan venue.Lifecycle { return f.events }

// PushOrder delivers an order update. Dropped once the feed is closed.
func (f *Feed) PushOrder(p venue.Payload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.orders <- p:
	default:
	}
}

// PushTick delivers a market-data tick.
func (f *Feed) PushTick(t venue.Tick) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ticks <- t:
	default:
	}
}

// Drop simulates the venue closing the connection.
func (f *Feed) Drop(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	select {
	case f.events <- venue.Lifecycle{Kind: venue.LifecycleDisconnected, Code: code, Reason: reason}:
	default:
	}
	close(f.orders)
	close(f.ticks)
	close(f.events)
}

// Subscriptions returns recorded Subscribe calls.
func (f *Feed) Subscriptions() []Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Subscription(nil), f.subs...)
}

// Closed reports whether the feed has ended.
func (f *Feed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Feed) Subscribe(tokens []uint32, mode string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return venue.ErrFeedClosed
	}
	f.subs = append(f.subs, Subscription{Tokens: append([]uint32(nil), tokens...), Mode: mode})
	return nil
}

func (f *Feed) Close() error {
	f.Drop(1000, "client closed")
	return nil
}
