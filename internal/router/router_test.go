package router

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oms-gateway/internal/bus"
	"oms-gateway/internal/canonical"
	"oms-gateway/internal/events"
	"oms-gateway/internal/gateway"
	"oms-gateway/internal/session"
	"oms-gateway/internal/stream"
	"oms-gateway/pkg/venue"
	"oms-gateway/pkg/venue/mock"
)

const (
	requests  = "blitz.requests"
	responses = "blitz.responses"
)

type harness struct {
	router *Router
	venue  *mock.Venue
	bus    *bus.Memory
	out    <-chan bus.Message
}

type staticCreds struct {
	mu sync.Mutex
	m  map[session.Key]venue.Credentials
}

func newStaticCreds(m map[session.Key]venue.Credentials) *staticCreds {
	if m == nil {
		m = map[session.Key]venue.Credentials{}
	}
	return &staticCreds{m: m}
}

func (s *staticCreds) Load(_ context.Context, key session.Key) (venue.Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[key]
	return c, ok, nil
}

func (s *staticCreds) Upsert(_ context.Context, key session.Key, creds venue.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = creds
	return nil
}

func newHarness(t *testing.T, creds CredentialSource) *harness {
	t.Helper()
	b := bus.NewMemory(256)
	t.Cleanup(func() { _ = b.Close() })
	out, err := b.Subscribe(t.Context(), responses)
	require.NoError(t, err)

	v := mock.New("zerodha")
	venues := gateway.Venues{"zerodha": func(venue.Credentials) (venue.Venue, error) { return v, nil }}
	pub := events.NewPublisher(b, nil)
	reg := gateway.NewRegistry(venues, session.Options{
		Publisher: pub,
		Stream:    stream.Config{RawChannel: "blitz.raw", EventChannel: responses, ReconnectDelay: 20 * time.Millisecond},
	})
	t.Cleanup(reg.Close)

	r := New(Config{RequestChannel: requests, ResponseChannel: responses}, b, pub, reg, creds, nil, nil)
	return &harness{router: r, venue: v, bus: b, out: out}
}

func envelope(t *testing.T, id, action string, data any, creds *venue.Credentials) []byte {
	t.Helper()
	cmd := map[string]any{"request_id": id, "broker": "zerodha", "entity_id": "E1", "action": action}
	if data != nil {
		cmd["data"] = data
	}
	if creds != nil {
		cmd["credentials"] = creds
	}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	return raw
}

type response struct {
	RequestID string          `json:"request_id"`
	Action    string          `json:"action"`
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Error     *string         `json:"error"`
}

// await skips stream messages on the shared channel until the response for id arrives.
func (h *harness) await(t *testing.T, id string) response {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-h.out:
			var r response
			require.NoError(t, json.Unmarshal(m.Payload, &r))
			if r.RequestID == id {
				return r
			}
		case <-timeout:
			t.Fatalf("no response for %s", id)
		}
	}
}

func (h *harness) do(t *testing.T, id, action string, data any, creds *venue.Credentials) response {
	t.Helper()
	h.router.Handle(t.Context(), envelope(t, id, action, data, creds))
	return h.await(t, id)
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	r := h.do(t, "login", canonical.ActionLogin, map[string]string{"request_token": "req"}, &venue.Credentials{APIKey: "k", APISecret: "s"})
	require.Equal(t, canonical.StatusSuccess, r.Status, r.Error)
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestPlaceThenCancelByOwnID(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	h.venue.QueueOrderIDs("V1")

	placed := h.do(t, "p1", canonical.ActionPlaceOrder, map[string]any{
		"ownOrderId": "A1", "instrument": "INFY", "exchangeSegment": "NSE_EQ",
		"side": "BUY", "type": "LIMIT", "qty": 10, "limitPrice": 1500.5, "product": "CNC",
	}, nil)
	require.Equal(t, canonical.StatusSuccess, placed.Status, placed.Error)
	order := decode[canonical.Order](t, placed.Data)
	assert.Equal(t, "A1", order.OwnOrderID)
	assert.Equal(t, "V1", order.VenueOrderID)

	cancelled := h.do(t, "c1", canonical.ActionCancelOrder, map[string]any{"ownOrderId": "A1"}, nil)
	require.Equal(t, canonical.StatusSuccess, cancelled.Status, cancelled.Error)
	assert.Equal(t, "V1", decode[canonical.Order](t, cancelled.Data).VenueOrderID)

	calls := h.venue.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, "CancelOrder", last.Method)
	assert.Equal(t, "V1", last.OrderID)
}

func TestOrderBeforeLoginIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	r := h.do(t, "p1", canonical.ActionPlaceOrder, map[string]any{
		"ownOrderId": "A1", "instrument": "INFY", "side": "BUY", "qty": 1,
	}, &venue.Credentials{APIKey: "k"})

	assert.Equal(t, canonical.StatusError, r.Status)
	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "not authenticated")
	for _, c := range h.venue.Calls() {
		assert.NotEqual(t, "PlaceOrder", c.Method)
	}
}

func TestUnknownActionAnswersWithError(t *testing.T) {
	h := newHarness(t, nil)
	r := h.do(t, "x1", "FLY_TO_MOON", nil, &venue.Credentials{APIKey: "k"})

	assert.Equal(t, canonical.StatusError, r.Status)
	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "unknown action")
	assert.Equal(t, "FLY_TO_MOON", r.Action)
}

func TestMalformedEnvelopeIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.router.Handle(t.Context(), []byte(`{"action":"GET_ORDERS","broker":"zerodha"}`))
	h.router.Handle(t.Context(), []byte(`not json`))

	select {
	case m := <-h.out:
		t.Fatalf("unexpected response %s", m.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMissingCredentialsFailsWithoutSession(t *testing.T) {
	h := newHarness(t, nil)
	r := h.do(t, "o1", canonical.ActionGetOrders, nil, nil)

	assert.Equal(t, canonical.StatusError, r.Status)
	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "credentials")
}

func TestStoredCredentialsAreUsedWhenEnvelopeHasNone(t *testing.T) {
	h := newHarness(t, newStaticCreds(map[session.Key]venue.Credentials{{Venue: "zerodha", Entity: "E1"}: {APIKey: "stored"}}))
	r := h.do(t, "u1", canonical.ActionGetLoginURL, nil, nil)

	require.Equal(t, canonical.StatusSuccess, r.Status, r.Error)
	assert.Contains(t, decode[LoginURLResult](t, r.Data).LoginURL, "zerodha")
}

func TestInlineCredentialsAreRemembered(t *testing.T) {
	key := session.Key{Venue: "zerodha", Entity: "E1"}
	store := newStaticCreds(map[session.Key]venue.Credentials{key: {APIKey: "old", AccessToken: "kept"}})
	h := newHarness(t, store)

	r := h.do(t, "u1", canonical.ActionGetLoginURL, nil, &venue.Credentials{APIKey: "new", APISecret: "s"})
	require.Equal(t, canonical.StatusSuccess, r.Status, r.Error)

	got, ok, err := store.Load(t.Context(), key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", got.APIKey)
	assert.Equal(t, "kept", got.AccessToken)
}

func TestVenueErrorMessageIsSurfaced(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)
	h.venue.FailNext(&venue.Error{Status: 400, Code: "InputException", Message: "Insufficient funds"})

	r := h.do(t, "p1", canonical.ActionPlaceOrder, map[string]any{
		"ownOrderId": "A1", "instrument": "INFY", "side": "BUY", "qty": 1,
	}, nil)
	require.NotNil(t, r.Error)
	assert.Equal(t, "Insufficient funds", *r.Error)
}

func TestLoginWithInvalidTokenFails(t *testing.T) {
	h := newHarness(t, nil)
	r := h.do(t, "l1", canonical.ActionLogin, map[string]string{"requestToken": "invalid"}, &venue.Credentials{APIKey: "k"})

	assert.Equal(t, canonical.StatusError, r.Status)
	require.NotNil(t, r.Error)
	assert.Contains(t, *r.Error, "authentication failed")
}

func TestLogoutAndSubscribe(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	sub := h.do(t, "s1", canonical.ActionSubscribeMarketData, map[string]any{"tokens": []uint32{408065}, "mode": "ltp"}, nil)
	require.Equal(t, canonical.StatusSuccess, sub.Status, sub.Error)
	assert.Equal(t, []uint32{408065}, decode[SubscribeResult](t, sub.Data).Tokens)

	out := h.do(t, "lo1", canonical.ActionLogout, nil, nil)
	require.Equal(t, canonical.StatusSuccess, out.Status, out.Error)
	assert.Equal(t, "UNAUTHENTICATED", decode[StateResult](t, out.Data).State)

	orders := h.do(t, "o1", canonical.ActionGetOrders, nil, nil)
	assert.Equal(t, canonical.StatusError, orders.Status)
}

func TestConcurrentPlacementsKeepTheirPairs(t *testing.T) {
	h := newHarness(t, nil)
	h.login(t)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "A" + string(rune('a'+i))
			h.router.Handle(t.Context(), envelope(t, id, canonical.ActionPlaceOrder, map[string]any{
				"ownOrderId": id, "instrument": "INFY", "side": "SELL", "qty": 1,
			}, nil))
		}()
	}
	wg.Wait()

	s, ok := h.router.sessions.Get(session.Key{Venue: "zerodha", Entity: "E1"})
	require.True(t, ok)
	seen := map[string]bool{}
	for i := range n {
		id := "A" + string(rune('a'+i))
		venueID, err := s.Correlation().Resolve(id)
		require.NoError(t, err)
		assert.NotEqual(t, id, venueID)
		assert.False(t, seen[venueID], "venue id %s reused", venueID)
		seen[venueID] = true
	}
}

func TestRunConsumesBusAndDrains(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx) }()
	require.Eventually(t, h.router.Ready, time.Second, 5*time.Millisecond)

	require.NoError(t, h.bus.Publish(ctx, requests, envelope(t, "u1", canonical.ActionGetLoginURL, nil, &venue.Credentials{APIKey: "k"})))
	r := h.await(t, "u1")
	assert.Equal(t, canonical.StatusSuccess, r.Status)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, h.router.Wait(t.Context()))
	assert.False(t, h.router.Ready())
}

func TestRequestIDIsAssignedWhenMissing(t *testing.T) {
	h := newHarness(t, nil)
	h.router.Handle(t.Context(), []byte(`{"broker":"zerodha","entity_id":"E1","action":"GET_LOGIN_URL","credentials":{"api_key":"k"}}`))

	select {
	case m := <-h.out:
		var r response
		require.NoError(t, json.Unmarshal(m.Payload, &r))
		assert.NotEmpty(t, r.RequestID)
	case <-time.After(time.Second):
		t.Fatal("no response")
	}
}
