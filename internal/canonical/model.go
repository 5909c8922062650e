// Package canonical holds the venue-agnostic records exchanged with the OMS.
package canonical

import "time"

// Status is an order lifecycle status. Values outside the constants below are
// venue statuses passed through unchanged.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusFilled    Status = "FILLED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
)

// Completed reports whether the status is terminal.
func (s Status) Completed() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Order is a normalized order record. Values are never edited in place; an
// update produces a new Order.
type Order struct {
	OwnOrderID           string     `json:"ownOrderId"`
	VenueOrderID         string     `json:"venueOrderId"`
	ExchangeOrderID      string     `json:"exchangeOrderId,omitempty"`
	Instrument           string     `json:"instrument"`
	InstrumentToken      int64      `json:"instrumentToken,omitempty"`
	ExchangeSegment      string     `json:"exchangeSegment"`
	Product              string     `json:"product,omitempty"`
	Side                 string     `json:"side"`
	Type                 string     `json:"type"`
	Validity             string     `json:"validity,omitempty"`
	Status               Status     `json:"status"`
	StatusMessage        string     `json:"statusMessage,omitempty"`
	OrderedQty           float64    `json:"orderedQty"`
	FilledQty            float64    `json:"filledQty"`
	RemainingQty         float64    `json:"remainingQty"`
	CancelledQty         float64    `json:"cancelledQty"`
	DisclosedQty         float64    `json:"disclosedQty"`
	LimitPrice           float64    `json:"limitPrice"`
	TriggerPrice         float64    `json:"triggerPrice"`
	AvgTradedPrice       float64    `json:"avgTradedPrice"`
	TradedValue          float64    `json:"tradedValue"`
	GeneratedTime        *time.Time `json:"generatedTime"`
	ExchangeTransactTime *time.Time `json:"exchangeTransactTime"`
	IsCompleted          bool       `json:"isCompleted"`
}

// WithOwnOrderID returns a copy of o carrying the given OMS identifier.
func (o Order) WithOwnOrderID(id string) Order {
	o.OwnOrderID = id
	return o
}

// Position is a normalized open position.
type Position struct {
	Instrument      string  `json:"instrument"`
	InstrumentToken int64   `json:"instrumentToken,omitempty"`
	ExchangeSegment string  `json:"exchangeSegment"`
	Product         string  `json:"product"`
	NetQty          float64 `json:"netQty"`
	BuyQty          float64 `json:"buyQty"`
	SellQty         float64 `json:"sellQty"`
	AvgPrice        float64 `json:"avgPrice"`
	LastPrice       float64 `json:"lastPrice"`
	RealizedPnL     float64 `json:"realizedPnl"`
	UnrealizedPnL   float64 `json:"unrealizedPnl"`
	PnL             float64 `json:"pnl"`
}

// PositionBook pairs the net and day position views.
type PositionBook struct {
	Net []Position `json:"net"`
	Day []Position `json:"day"`
}

// Holding is a normalized long-term holding.
type Holding struct {
	Instrument      string  `json:"instrument"`
	InstrumentToken int64   `json:"instrumentToken,omitempty"`
	ExchangeSegment string  `json:"exchangeSegment"`
	ISIN            string  `json:"isin,omitempty"`
	Qty             float64 `json:"qty"`
	T1Qty           float64 `json:"t1Qty"`
	AvgPrice        float64 `json:"avgPrice"`
	LastPrice       float64 `json:"lastPrice"`
	Value           float64 `json:"value"`
	PnL             float64 `json:"pnl"`
}
