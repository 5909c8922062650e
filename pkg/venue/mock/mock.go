// Package mock is an in-memory venue. Tests use it to observe venue traffic;
// dry-run mode uses it in place of a real account.
package mock

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"oms-gateway/pkg/venue"
)

// Call records one venue invocation.
type Call struct {
	Method  string
	OrderID string
	Params  venue.OrderParams
}

// Option configures a Venue.
type Option func(*Venue)

// WithEcho makes order commands produce push updates on open feeds.
func WithEcho() Option { return func(v *Venue) { v.echo = true } }

// Venue is a scripted, thread-safe venue.
type Venue struct {
	name string
	echo bool

	mu         sync.Mutex
	calls      []Call
	seq        int
	queuedIDs  []string
	orders     map[string]venue.Payload
	orderIDs   []string
	holdings   []venue.Payload
	positions  venue.PositionBook
	feeds      []*Feed
	connectErr error
	failNext   error
}

// New returns an empty venue.
func New(name string, opts ...Option) *Venue {
	v := &Venue{name: name, orders: make(map[string]venue.Payload)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Factory adapts New to venue.Factory.
func Factory(name string, opts ...Option) venue.Factory {
	return func(venue.Credentials) (venue.Venue, error) { return New(name, opts...), nil }
}

// QueueOrderIDs fixes the ids returned by the next placements.
func (v *Venue) QueueOrderIDs(ids ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queuedIDs = append(v.queuedIDs, ids...)
}

// FailNext makes the next trading call return err.
func (v *Venue) FailNext(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failNext = err
}

// FailConnect makes every Connect return err until cleared with nil.
func (v *Venue) FailConnect(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connectErr = err
}

// SetHoldings and SetPositions script portfolio reads.
func (v *Venue) SetHoldings(h []venue.Payload) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.holdings = h
}

func (v *Venue) SetPositions(b venue.PositionBook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions = b
}

// Calls returns a snapshot of recorded invocations.
func (v *Venue) Calls() []Call {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Call(nil), v.calls...)
}

// Feeds returns every feed opened so far.
func (v *Venue) Feeds() []*Feed {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*Feed(nil), v.feeds...)
}

func (v *Venue) record(c Call) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, c)
	if err := v.failNext; err != nil {
		v.failNext = nil
		return err
	}
	return nil
}

func (v *Venue) Name() string { return v.name }

func (v *Venue) LoginURL() string { return "https://mock.invalid/login?venue=" + v.name }

func (v *Venue) Authenticate(_ context.Context, requestToken string) (venue.Session, error) {
	if err := v.record(Call{Method: "Authenticate"}); err != nil {
		return venue.Session{}, err
	}
	if requestToken == "" || requestToken == "invalid" {
		return venue.Session{}, &venue.Error{Status: http.StatusForbidden, Code: "TokenException", Message: "Token is invalid or has expired."}
	}
	return venue.Session{AccessToken: "access-" + requestToken, UserID: "MOCK01"}, nil
}

func (v *Venue) Trader(accessToken string) venue.Trader { return &trader{v: v, token: accessToken} }

func (v *Venue) Streamer(accessToken string) venue.Streamer {
	return &streamer{v: v, token: accessToken}
}

func (v *Venue) nextID() string {
	if len(v.queuedIDs) > 0 {
		id := v.queuedIDs[0]
		v.queuedIDs = v.queuedIDs[1:]
		return id
	}
	v.seq++
	return fmt.Sprintf("MOCK%06d", v.seq)
}

func (v *Venue) broadcast(p venue.Payload) {
	if !v.echo {
		return
	}
	for _, f := range v.Feeds() {
		f.PushOrder(p)
	}
}

func copyPayload(p venue.Payload) venue.Payload {
	out := make(venue.Payload, len(p))
	for k, val := range p {
		out[k] = val
	}
	return out
}

type trader struct {
	v     *Venue
	token string
}

var errToken = &venue.Error{Status: http.StatusForbidden, Code: "TokenException", Message: "Incorrect `api_key` or `access_token`."}

func notFound(id string) error {
	return &venue.Error{Status: http.StatusNotFound, Code: "InputException", Message: "Couldn't find order " + id}
}

func (t *trader) check(c Call) error {
	if t.token == "" {
		_ = t.v.record(c)
		return errToken
	}
	return t.v.record(c)
}

func (t *trader) PlaceOrder(_ context.Context, p venue.OrderParams) (venue.OrderAck, error) {
	if err := t.check(Call{Method: "PlaceOrder", Params: p}); err != nil {
		return venue.OrderAck{}, err
	}
	t.v.mu.Lock()
	id := t.v.nextID()
	order := venue.Payload{
		"order_id":         id,
		"status":           "OPEN",
		"tradingsymbol":    p.Instrument,
		"exchange":         p.Exchange,
		"transaction_type": string(p.Side),
		"order_type":       string(p.Type),
		"product":          p.Product,
		"validity":         p.Validity,
		"quantity":         p.Quantity,
		"pending_quantity": p.Quantity,
		"price":            p.Price,
		"trigger_price":    p.TriggerPrice,
		"tag":              p.Tag,
	}
	t.v.orders[id] = order
	t.v.orderIDs = append(t.v.orderIDs, id)
	snapshot := copyPayload(order)
	t.v.mu.Unlock()

	t.v.broadcast(snapshot)
	return venue.OrderAck{OrderID: id, Raw: venue.Payload{"order_id": id}}, nil
}

func (t *trader) ModifyOrder(_ context.Context, orderID string, p venue.OrderParams) (venue.OrderAck, error) {
	if err := t.check(Call{Method: "ModifyOrder", OrderID: orderID, Params: p}); err != nil {
		return venue.OrderAck{}, err
	}
	t.v.mu.Lock()
	order, ok := t.v.orders[orderID]
	if !ok {
		t.v.mu.Unlock()
		return venue.OrderAck{}, notFound(orderID)
	}
	if p.Quantity > 0 {
		order["quantity"] = p.Quantity
		order["pending_quantity"] = p.Quantity
	}
	if p.Price > 0 {
		order["price"] = p.Price
	}
	if p.TriggerPrice > 0 {
		order["trigger_price"] = p.TriggerPrice
	}
	if p.Type != "" {
		order["order_type"] = string(p.Type)
	}
	snapshot := copyPayload(order)
	t.v.mu.Unlock()

	t.v.broadcast(snapshot)
	return venue.OrderAck{OrderID: orderID, Raw: venue.Payload{"order_id": orderID}}, nil
}

func (t *trader) CancelOrder(_ context.Context, orderID string) (venue.OrderAck, error) {
	if err := t.check(Call{Method: "CancelOrder", OrderID: orderID}); err != nil {
		return venue.OrderAck{}, err
	}
	t.v.mu.Lock()
	order, ok := t.v.orders[orderID]
	if !ok {
		t.v.mu.Unlock()
		return venue.OrderAck{}, notFound(orderID)
	}
	order["status"] = "CANCELLED"
	order["cancelled_quantity"] = order["pending_quantity"]
	order["pending_quantity"] = float64(0)
	snapshot := copyPayload(order)
	t.v.mu.Unlock()

	t.v.broadcast(snapshot)
	return venue.OrderAck{OrderID: orderID, Raw: venue.Payload{"order_id": orderID}}, nil
}

func (t *trader) Orders(context.Context) ([]venue.Payload, error) {
	if err := t.check(Call{Method: "Orders"}); err != nil {
		return nil, err
	}
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	out := make([]venue.Payload, 0, len(t.v.orderIDs))
	for _, id := range t.v.orderIDs {
		out = append(out, copyPayload(t.v.orders[id]))
	}
	return out, nil
}

func (t *trader) OrderHistory(_ context.Context, orderID string) ([]venue.Payload, error) {
	if err := t.check(Call{Method: "OrderHistory", OrderID: orderID}); err != nil {
		return nil, err
	}
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	order, ok := t.v.orders[orderID]
	if !ok {
		return nil, notFound(orderID)
	}
	return []venue.Payload{copyPayload(order)}, nil
}

func (t *trader) Holdings(context.Context) ([]venue.Payload, error) {
	if err := t.check(Call{Method: "Holdings"}); err != nil {
		return nil, err
	}
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	return append([]venue.Payload(nil), t.v.holdings...), nil
}

func (t *trader) Positions(context.Context) (venue.PositionBook, error) {
	if err := t.check(Call{Method: "Positions"}); err != nil {
		return venue.PositionBook{}, err
	}
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	return t.v.positions, nil
}
