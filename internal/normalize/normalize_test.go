package normalize

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oms-gateway/internal/canonical"
	"oms-gateway/pkg/venue"
)

func TestStatusTable(t *testing.T) {
	cases := []struct {
		raw  string
		want canonical.Status
		done bool
	}{
		{"OPEN", canonical.StatusNew, false},
		{"open", canonical.StatusNew, false},
		{"COMPLETE", canonical.StatusFilled, true},
		{"CANCELLED", canonical.StatusCancelled, true},
		{"REJECTED", canonical.StatusRejected, true},
		{"PARTIALLY_FILLED", canonical.Status("PARTIALLY_FILLED"), false},
		{"TRIGGER PENDING", canonical.Status("TRIGGER PENDING"), false},
		{"", canonical.Status(""), false},
	}
	for _, tc := range cases {
		got := Status(tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
		assert.Equal(t, tc.done, got.Completed(), tc.raw)
	}
}

func TestOrderFullPayload(t *testing.T) {
	p := venue.Payload{
		"order_id":           "220101000000001",
		"exchange_order_id":  "1100000000000001",
		"tag":                "A1",
		"status":             "COMPLETE",
		"tradingsymbol":      "INFY",
		"instrument_token":   float64(408065),
		"exchange":           "NSE",
		"transaction_type":   "buy",
		"order_type":         "LIMIT",
		"product":            "CNC",
		"validity":           "DAY",
		"quantity":           float64(10),
		"filled_quantity":    float64(10),
		"pending_quantity":   float64(0),
		"cancelled_quantity": float64(0),
		"price":              1500.5,
		"trigger_price":      float64(0),
		"average_price":      1500.25,
		"order_timestamp":    "2024-03-01 09:15:02",
		"exchange_timestamp": "2024-03-01 09:15:03",
	}

	o, err := Order(p)
	require.NoError(t, err)
	assert.Equal(t, "220101000000001", o.VenueOrderID)
	assert.Equal(t, "A1", o.OwnOrderID)
	assert.Equal(t, "BUY", o.Side)
	assert.Equal(t, canonical.StatusFilled, o.Status)
	assert.True(t, o.IsCompleted)
	assert.Equal(t, int64(408065), o.InstrumentToken)
	assert.InDelta(t, 15002.5, o.TradedValue, 1e-9)
	require.NotNil(t, o.GeneratedTime)
	assert.Equal(t, time.Date(2024, 3, 1, 3, 45, 2, 0, time.UTC), o.GeneratedTime.UTC())
}

func TestOrderMissingNumericsDefaultToZero(t *testing.T) {
	o, err := Order(venue.Payload{"order_id": "V1", "status": "OPEN"})
	require.NoError(t, err)
	assert.Equal(t, "V1", o.VenueOrderID)
	assert.Zero(t, o.OrderedQty)
	assert.Zero(t, o.FilledQty)
	assert.Zero(t, o.RemainingQty)
	assert.Zero(t, o.CancelledQty)
	assert.Zero(t, o.LimitPrice)
	assert.Zero(t, o.AvgTradedPrice)
	assert.Nil(t, o.GeneratedTime)
	assert.False(t, o.IsCompleted)
}

func TestOrderMalformedFieldIsZeroedAndReported(t *testing.T) {
	o, err := Order(venue.Payload{
		"order_id":        "V2",
		"quantity":        "12",
		"filled_quantity": []any{1},
		"order_timestamp": "yesterday",
	})
	require.Error(t, err)

	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, float64(12), o.OrderedQty)
	assert.Zero(t, o.FilledQty)
	assert.Nil(t, o.GeneratedTime)
	assert.Contains(t, err.Error(), "filled_quantity")
	assert.Contains(t, err.Error(), "order_timestamp")
}

func TestOrderDetailsNesting(t *testing.T) {
	o, err := Order(venue.Payload{"details": map[string]any{"order_id": "V3", "status": "REJECTED"}})
	require.NoError(t, err)
	assert.Equal(t, "V3", o.VenueOrderID)
	assert.True(t, o.IsCompleted)
}

func TestOrderDecodedWithUseNumber(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"order_id":"V4","quantity":5,"unfilled_quantity":2}`))
	dec.UseNumber()
	var p venue.Payload
	require.NoError(t, dec.Decode(&p))

	o, err := Order(p)
	require.NoError(t, err)
	assert.Equal(t, float64(5), o.OrderedQty)
	assert.Equal(t, float64(2), o.RemainingQty)
}

func TestPositionsAndHoldings(t *testing.T) {
	book, err := Positions(venue.PositionBook{
		Net: []venue.Payload{{"tradingsymbol": "SBIN", "quantity": float64(-5), "realised": 10.5, "unrealised": -2.25}},
		Day: []venue.Payload{{"tradingsymbol": "SBIN", "pnl": float64(3)}},
	})
	require.NoError(t, err)
	require.Len(t, book.Net, 1)
	require.Len(t, book.Day, 1)
	assert.Equal(t, float64(-5), book.Net[0].NetQty)
	assert.InDelta(t, 8.25, book.Net[0].PnL, 1e-9)
	assert.Equal(t, float64(3), book.Day[0].PnL)

	holdings, err := Holdings([]venue.Payload{
		{"tradingsymbol": "TCS", "quantity": float64(2), "t1_quantity": float64(1), "average_price": float64(3000), "last_price": float64(3100)},
		{"tradingsymbol": "EMPTY"},
	})
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.InDelta(t, 9300, holdings[0].Value, 1e-9)
	assert.InDelta(t, 300, holdings[0].PnL, 1e-9)
	assert.Zero(t, holdings[1].Value)
}

func TestOrdersJoinsErrorsButKeepsRecords(t *testing.T) {
	list, err := Orders([]venue.Payload{
		{"order_id": "ok"},
		{"order_id": "bad", "price": map[string]any{}},
	})
	require.Error(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "bad", list[1].VenueOrderID)
}
