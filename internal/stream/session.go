// Package stream keeps one tenant's push connection alive and forwards its
// events to the OMS.
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"oms-gateway/internal/canonical"
	"oms-gateway/internal/monitor"
	"oms-gateway/internal/normalize"
	"oms-gateway/pkg/venue"
)

// DefaultReconnectDelay is the fixed backoff between connection attempts.
const DefaultReconnectDelay = 3 * time.Second

const publishTimeout = 5 * time.Second

var (
	ErrDisconnected = errors.New("stream: disconnected")
	ErrStopped      = errors.New("stream: session stopped")
)

// State is the connection state of a Session.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	}
	return "DISCONNECTED"
}

// Publisher delivers envelopes onto a bus channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, v any) error
}

// Tracker is told about every accepted order update and returns the OMS
// order id it knows for the venue order, if any.
type Tracker interface {
	Observe(o canonical.Order) string
}

// Config parameterizes a Session.
type Config struct {
	Venue          string
	Entity         string
	Source         string // SYSTEM_EVENT source label
	Node           string
	RawChannel     string
	EventChannel   string
	ReconnectDelay time.Duration
}

// DedupKey identifies one logical state of a venue order.
type DedupKey struct {
	VenueOrderID string
	Status       canonical.Status
	FilledQty    float64
	CancelledQty float64
}

func dedupKeyOf(o canonical.Order) DedupKey {
	return DedupKey{
		VenueOrderID: o.VenueOrderID,
		Status:       o.Status,
		FilledQty:    o.FilledQty,
		CancelledQty: o.CancelledQty,
	}
}

// Session runs the reconnect loop for one tenant. Stop is terminal.
type Session struct {
	cfg      Config
	streamer venue.Streamer
	pub      Publisher
	tracker  Tracker
	log      *zap.Logger
	metrics  *monitor.Metrics

	state   atomic.Int32
	started atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}

	mu   sync.Mutex // guards feed and subs
	feed venue.Feed
	subs map[uint32]string

	// Latest key per venue order id. Owned by the run goroutine. Grows with
	// the number of distinct orders seen during the session's life.
	dedup map[string]DedupKey
}

// New creates a stopped-but-startable session.
func New(cfg Config, streamer venue.Streamer, pub Publisher, tracker Tracker, log *zap.Logger, metrics *monitor.Metrics) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Source == "" {
		cfg.Source = cfg.Venue + "_websocket"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		cfg:      cfg,
		streamer: streamer,
		pub:      pub,
		tracker:  tracker,
		log:      log.Named("stream").With(zap.String("venue", cfg.Venue), zap.String("entity", cfg.Entity)),
		metrics:  metrics,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		subs:     make(map[uint32]string),
		dedup:    make(map[string]DedupKey),
	}
}

// State reports the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Start launches the connection loop. Calling it again, or after Stop, does nothing.
func (s *Session) Start() {
	if s.stopped() || !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
}

// Stop ends the loop and waits for it to exit. Safe to call repeatedly.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.done
	}
	s.setState(Disconnected)
}

// Subscribe records market-data interest. It is sent right away when
// connected and replayed after every reconnect.
func (s *Session) Subscribe(tokens []uint32, mode string) error {
	if s.stopped() {
		return ErrStopped
	}
	if mode == "" {
		mode = venue.ModeLTP
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		s.subs[t] = mode
	}
	if s.feed == nil {
		return nil
	}
	return s.feed.Subscribe(tokens, mode)
}

func (s *Session) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Session) setState(st State) {
	if prev := State(s.state.Swap(int32(st))); prev != st {
		s.log.Info("stream state", zap.Stringer("from", prev), zap.Stringer("to", st))
	}
}

func (s *Session) run() {
	defer close(s.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if s.stopped() {
			break
		}
		s.setState(Connecting)
		feed, err := s.streamer.Connect(ctx)
		if err != nil {
			if s.stopped() {
				break
			}
			s.log.Warn("stream connect failed", zap.Error(err))
			s.systemEvent(venue.Lifecycle{Kind: venue.LifecycleError, Reason: err.Error()})
		} else {
			s.setState(Connected)
			s.attach(feed)
			s.consume(feed)
			s.detach()
			_ = feed.Close()
		}

		if s.stopped() {
			break
		}
		s.setState(Reconnecting)
		s.systemEvent(venue.Lifecycle{Kind: venue.LifecycleReconnecting, Reason: ErrDisconnected.Error()})
		if !s.sleep(s.cfg.ReconnectDelay) {
			break
		}
		s.metrics.StreamReconnect(s.cfg.Venue)
		s.log.Info("stream reconnecting", zap.Duration("backoff", s.cfg.ReconnectDelay))
	}

	s.setState(Disconnected)
	s.systemEvent(venue.Lifecycle{Kind: venue.LifecycleDisconnected, Reason: ErrStopped.Error()})
}

// sleep waits for d and reports false if Stop was called meanwhile.
func (s *Session) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.stopCh:
		return false
	case <-t.C:
		return !s.stopped()
	}
}

func (s *Session) attach(feed venue.Feed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed = feed

	byMode := make(map[string][]uint32)
	for token, mode := range s.subs {
		byMode[mode] = append(byMode[mode], token)
	}
	for mode, tokens := range byMode {
		if err := feed.Subscribe(tokens, mode); err != nil {
			s.log.Warn("resubscribe failed", zap.String("mode", mode), zap.Error(err))
		}
	}
}

func (s *Session) detach() {
	s.mu.Lock()
	s.feed = nil
	s.mu.Unlock()
}

// consume pumps one feed until it disconnects or the session stops.
func (s *Session) consume(feed venue.Feed) {
	orders, ticks, events := feed.Orders(), feed.Ticks(), feed.Lifecycle()
	for {
		select {
		case <-s.stopCh:
			return
		case p, ok := <-orders:
			if !ok {
				orders = nil
				continue
			}
			s.handleOrder(p)
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			s.handleTick(t)
		case ev, ok := <-events:
			if !ok {
				s.drain(orders)
				return
			}
			s.systemEvent(ev)
			if ev.Kind == venue.LifecycleDisconnected {
				s.drain(orders)
				return
			}
		}
	}
}

// drain handles order updates already buffered when the feed went away.
func (s *Session) drain(orders <-chan venue.Payload) {
	if orders == nil {
		return
	}
	for {
		select {
		case p, ok := <-orders:
			if !ok {
				return
			}
			s.handleOrder(p)
		default:
			return
		}
	}
}

func (s *Session) handleOrder(p venue.Payload) {
	o, err := normalize.Order(p)
	if err != nil {
		s.log.Warn("order update normalized with defaults", zap.String("order_id", o.VenueOrderID), zap.Error(err))
	}

	key := dedupKeyOf(o)
	if prev, ok := s.dedup[o.VenueOrderID]; ok && prev == key {
		s.metrics.StreamEvent(s.cfg.Venue, "duplicate")
		s.log.Debug("duplicate order update suppressed", zap.String("order_id", o.VenueOrderID), zap.String("status", string(o.Status)))
		return
	}
	s.dedup[o.VenueOrderID] = key
	s.metrics.StreamEvent(s.cfg.Venue, "order")

	if s.tracker != nil {
		if own := s.tracker.Observe(o); own != "" {
			o = o.WithOwnOrderID(own)
		}
	}

	s.publish(s.cfg.RawChannel, canonical.StreamMessage{
		MessageType: canonical.MessageOrderUpdate,
		Broker:      s.cfg.Venue,
		EntityID:    s.cfg.Entity,
		Data:        p,
	})
	s.publish(s.cfg.EventChannel, canonical.StreamMessage{
		MessageType: canonical.MessageOrderUpdate,
		Broker:      s.cfg.Venue,
		EntityID:    s.cfg.Entity,
		Data:        o,
	})
}

func (s *Session) handleTick(t venue.Tick) {
	s.metrics.StreamEvent(s.cfg.Venue, "tick")
	s.publish(s.cfg.EventChannel, canonical.StreamMessage{
		MessageType: canonical.MessageMarketData,
		Broker:      s.cfg.Venue,
		EntityID:    s.cfg.Entity,
		Data:        canonical.MarketData{InstrumentToken: t.InstrumentToken, LastPrice: t.LastPrice},
	})
}

func (s *Session) systemEvent(ev venue.Lifecycle) {
	s.metrics.StreamEvent(s.cfg.Venue, "system")
	s.publish(s.cfg.EventChannel, canonical.StreamMessage{
		MessageType: canonical.MessageSystemEvent,
		Broker:      s.cfg.Venue,
		EntityID:    s.cfg.Entity,
		Data: canonical.SystemEvent{
			Source: s.cfg.Source,
			Status: string(ev.Kind),
			Code:   ev.Code,
			Reason: ev.Reason,
			Node:   s.cfg.Node,
		},
	})
}

func (s *Session) publish(channel string, msg canonical.StreamMessage) {
	if s.pub == nil || channel == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.pub.Publish(ctx, channel, msg); err != nil {
		s.log.Warn("publish failed", zap.String("channel", channel), zap.String("type", msg.MessageType), zap.Error(err))
	}
}
