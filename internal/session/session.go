// Package session holds the per-tenant state: access token, order id
// correlation and the streaming connection.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"oms-gateway/internal/canonical"
	"oms-gateway/internal/monitor"
	"oms-gateway/internal/normalize"
	"oms-gateway/internal/stream"
	"oms-gateway/pkg/venue"
)

// Key identifies a tenant at a venue.
type Key struct {
	Venue  string `json:"broker"`
	Entity string `json:"entity_id"`
}

func (k Key) String() string { return k.Venue + ":" + k.Entity }

// State is the authentication state of a Session.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "AUTHENTICATED"
	}
	return "UNAUTHENTICATED"
}

// TokenSink persists access tokens so a restart can resume a login.
type TokenSink interface {
	SaveAccessToken(ctx context.Context, key Key, token string) error
}

// Options carries the collaborators shared by every session.
type Options struct {
	Publisher stream.Publisher
	Sink      TokenSink
	Stream    stream.Config // Venue and Entity are filled per session
	Logger    *zap.Logger
	Metrics   *monitor.Metrics

	// RawChannel, when set, overrides Stream.RawChannel per venue.
	RawChannel func(venue string) string
}

// Session is one tenant's gateway state.
type Session struct {
	key       Key
	creds     venue.Credentials
	venue     venue.Venue
	opts      Options
	log       *zap.Logger
	orders    *Correlation
	createdAt time.Time

	mu         sync.Mutex // guards the fields below
	token      string
	trader     venue.Trader
	stream     *stream.Session
	loggedInAt time.Time
}

// New creates a session. Credentials carrying an access token start
// authenticated; call Resume to open the stream.
func New(key Key, creds venue.Credentials, v venue.Venue, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("tenant", key.String()))
	s := &Session{
		key:       key,
		creds:     creds.WithDefaults(),
		venue:     v,
		opts:      opts,
		log:       log,
		orders:    NewCorrelation(log.Named("correlation")),
		createdAt: time.Now(),
	}
	if creds.AccessToken != "" {
		s.token = creds.AccessToken
		s.trader = v.Trader(creds.AccessToken)
		s.stream = s.newStream(creds.AccessToken)
		s.loggedInAt = s.createdAt
		opts.Metrics.LoggedIn()
	}
	return s
}

func (s *Session) newStream(token string) *stream.Session {
	cfg := s.opts.Stream
	cfg.Venue = s.key.Venue
	cfg.Entity = s.key.Entity
	if s.opts.RawChannel != nil {
		cfg.RawChannel = s.opts.RawChannel(s.key.Venue)
	}
	return stream.New(cfg, s.venue.Streamer(token), s.opts.Publisher, s.orders, s.log, s.opts.Metrics)
}

// Key returns the tenant key.
func (s *Session) Key() Key { return s.key }

// Correlation exposes the order id store.
func (s *Session) Correlation() *Correlation { return s.orders }

// State reports whether the session holds an access token.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return Unauthenticated
	}
	return Authenticated
}

// StreamState reports the streaming connection state.
func (s *Session) StreamState() stream.State {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st == nil {
		return stream.Disconnected
	}
	return st.State()
}

// Resume opens the stream for a session restored with a cached token.
func (s *Session) Resume() {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st != nil {
		s.log.Info("resuming stream with stored access token")
		st.Start()
	}
}

// LoginURL returns the venue page where the user obtains a request token.
func (s *Session) LoginURL() string { return s.venue.LoginURL() }

// Login exchanges a request token for an access token and opens the stream.
func (s *Session) Login(ctx context.Context, requestToken string) (string, error) {
	if requestToken == "" {
		return "", fmt.Errorf("%w: request token required", ErrAuth)
	}
	sess, err := s.venue.Authenticate(ctx, requestToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if sess.AccessToken == "" {
		return "", fmt.Errorf("%w: %w", ErrAuth, venue.ErrMissingToken)
	}

	next := s.newStream(sess.AccessToken)

	s.mu.Lock()
	prev := s.stream
	wasAuthenticated := s.token != ""
	s.token = sess.AccessToken
	s.trader = s.venue.Trader(sess.AccessToken)
	s.stream = next
	s.loggedInAt = time.Now()
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	next.Start()
	if !wasAuthenticated {
		s.opts.Metrics.LoggedIn()
	}
	s.persist(ctx, sess.AccessToken)
	s.log.Info("logged in", zap.String("user_id", sess.UserID))
	return sess.AccessToken, nil
}

// Logout stops the stream and forgets the token. Repeated calls do nothing.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.token == "" && s.stream == nil {
		s.mu.Unlock()
		return nil
	}
	st := s.stream
	s.token = ""
	s.trader = nil
	s.stream = nil
	s.loggedInAt = time.Time{}
	s.mu.Unlock()

	if st != nil {
		st.Stop()
	}
	s.opts.Metrics.LoggedOut()
	s.persist(ctx, "")
	s.log.Info("logged out")
	return nil
}

// Close stops streaming at process shutdown. The stored token is kept.
func (s *Session) Close() {
	s.mu.Lock()
	st := s.stream
	s.mu.Unlock()
	if st != nil {
		st.Stop()
	}
}

func (s *Session) persist(ctx context.Context, token string) {
	if s.opts.Sink == nil {
		return
	}
	if err := s.opts.Sink.SaveAccessToken(ctx, s.key, token); err != nil {
		s.log.Error("persist access token", zap.Error(err))
	}
}

func (s *Session) authorized() (venue.Trader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || s.trader == nil {
		return nil, ErrNotAuthenticated
	}
	return s.trader, nil
}

func (s *Session) resolve(cmd OrderCommand) (string, error) {
	ref, err := cmd.Ref()
	if err != nil {
		return "", err
	}
	venueID, err := s.orders.Resolve(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %s", err, ref)
	}
	return venueID, nil
}

func (s *Session) warnNormalize(what string, err error) {
	if err != nil {
		s.log.Warn("normalized with defaults", zap.String("shape", what), zap.Error(err))
	}
}

// PlaceOrder sends a new order and pairs its ids.
func (s *Session) PlaceOrder(ctx context.Context, cmd OrderCommand) (canonical.Order, error) {
	t, err := s.authorized()
	if err != nil {
		return canonical.Order{}, err
	}
	if err := cmd.validatePlacement(); err != nil {
		return canonical.Order{}, err
	}
	params := cmd.params()
	ack, err := t.PlaceOrder(ctx, params)
	if err != nil {
		return canonical.Order{}, err
	}
	if ack.OrderID == "" {
		return canonical.Order{}, &venue.Error{Code: "EmptyResponse", Message: "order id missing from venue response"}
	}
	if cmd.OwnOrderID != "" {
		// A conflict is logged by the store; the venue accepted the order either way.
		_ = s.orders.RecordPlacement(cmd.OwnOrderID, ack.OrderID)
	}

	o, nerr := normalize.Order(ackPayload(params, ack))
	s.warnNormalize("order", nerr)
	return o.WithOwnOrderID(cmd.OwnOrderID), nil
}

// ModifyOrder changes an order addressed by own or venue id.
func (s *Session) ModifyOrder(ctx context.Context, cmd OrderCommand) (canonical.Order, error) {
	t, err := s.authorized()
	if err != nil {
		return canonical.Order{}, err
	}
	venueID, err := s.resolve(cmd)
	if err != nil {
		return canonical.Order{}, err
	}
	params := cmd.params()
	params.Tag = ""
	ack, err := t.ModifyOrder(ctx, venueID, params)
	if err != nil {
		return canonical.Order{}, err
	}
	if ack.OrderID == "" {
		ack.OrderID = venueID
	}
	o, nerr := normalize.Order(ackPayload(params, ack))
	s.warnNormalize("order", nerr)
	return o.WithOwnOrderID(s.orders.OwnID(venueID)), nil
}

// CancelOrder cancels an order addressed by own or venue id.
func (s *Session) CancelOrder(ctx context.Context, cmd OrderCommand) (canonical.Order, error) {
	t, err := s.authorized()
	if err != nil {
		return canonical.Order{}, err
	}
	venueID, err := s.resolve(cmd)
	if err != nil {
		return canonical.Order{}, err
	}
	ack, err := t.CancelOrder(ctx, venueID)
	if err != nil {
		return canonical.Order{}, err
	}
	if ack.OrderID == "" {
		ack.OrderID = venueID
	}
	o, nerr := normalize.Order(ackPayload(venue.OrderParams{}, ack))
	s.warnNormalize("order", nerr)
	return o.WithOwnOrderID(s.orders.OwnID(venueID)), nil
}

func (s *Session) withOwnIDs(orders []canonical.Order) []canonical.Order {
	for i, o := range orders {
		if own := s.orders.OwnID(o.VenueOrderID); own != "" {
			orders[i] = o.WithOwnOrderID(own)
		}
	}
	return orders
}

// Orders lists the day's orders.
func (s *Session) Orders(ctx context.Context) ([]canonical.Order, error) {
	t, err := s.authorized()
	if err != nil {
		return nil, err
	}
	raw, err := t.Orders(ctx)
	if err != nil {
		return nil, err
	}
	orders, nerr := normalize.Orders(raw)
	s.warnNormalize("orders", nerr)
	return s.withOwnIDs(orders), nil
}

// OrderDetails returns the state history of one order.
func (s *Session) OrderDetails(ctx context.Context, cmd OrderCommand) ([]canonical.Order, error) {
	t, err := s.authorized()
	if err != nil {
		return nil, err
	}
	venueID, err := s.resolve(cmd)
	if err != nil {
		return nil, err
	}
	raw, err := t.OrderHistory(ctx, venueID)
	if err != nil {
		return nil, err
	}
	orders, nerr := normalize.Orders(raw)
	s.warnNormalize("order_history", nerr)
	return s.withOwnIDs(orders), nil
}

// Holdings lists long-term holdings.
func (s *Session) Holdings(ctx context.Context) ([]canonical.Holding, error) {
	t, err := s.authorized()
	if err != nil {
		return nil, err
	}
	raw, err := t.Holdings(ctx)
	if err != nil {
		return nil, err
	}
	h, nerr := normalize.Holdings(raw)
	s.warnNormalize("holdings", nerr)
	return h, nil
}

// Positions returns the net and day position views.
func (s *Session) Positions(ctx context.Context) (canonical.PositionBook, error) {
	t, err := s.authorized()
	if err != nil {
		return canonical.PositionBook{}, err
	}
	raw, err := t.Positions(ctx)
	if err != nil {
		return canonical.PositionBook{}, err
	}
	book, nerr := normalize.Positions(raw)
	s.warnNormalize("positions", nerr)
	return book, nil
}

// SubscribeMarketData registers instrument tokens on the stream.
func (s *Session) SubscribeMarketData(tokens []uint32, mode string) error {
	s.mu.Lock()
	st := s.stream
	authed := s.token != ""
	s.mu.Unlock()
	if !authed || st == nil {
		return ErrNotAuthenticated
	}
	if len(tokens) == 0 {
		return errors.New("session: at least one instrument token required")
	}
	return st.Subscribe(tokens, mode)
}

// Info is a point-in-time view of a session.
type Info struct {
	Key         Key       `json:"key"`
	UserID      string    `json:"user_id,omitempty"`
	State       string    `json:"state"`
	StreamState string    `json:"stream_state"`
	Orders      int       `json:"known_orders"`
	CreatedAt   time.Time `json:"created_at"`
	LoggedInAt  time.Time `json:"logged_in_at,omitzero"`
}

// Info snapshots the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	loggedIn := s.loggedInAt
	s.mu.Unlock()
	return Info{
		Key:         s.key,
		UserID:      s.creds.UserID,
		State:       s.State().String(),
		StreamState: s.StreamState().String(),
		Orders:      s.orders.Len(),
		CreatedAt:   s.createdAt,
		LoggedInAt:  loggedIn,
	}
}
