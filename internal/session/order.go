package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"oms-gateway/pkg/venue"
)

// maxTagLen is the longest order tag the venue stores.
const maxTagLen = 20

const defaultExchange = "NSE"

// OrderCommand is the data of an order action.
type OrderCommand struct {
	OwnOrderID      string  `json:"ownOrderId"`
	VenueOrderID    string  `json:"venueOrderId"`
	Instrument      string  `json:"instrument"`
	ExchangeSegment string  `json:"exchangeSegment"`
	Side            string  `json:"side"`
	Type            string  `json:"type"`
	Qty             float64 `json:"qty"`
	Product         string  `json:"product"`
	LimitPrice      float64 `json:"limitPrice"`
	TriggerPrice    float64 `json:"triggerPrice"`
	Validity        string  `json:"validity"`
	DisclosedQty    float64 `json:"disclosedQty"`
}

// flexID accepts ids sent as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// UnmarshalJSON also accepts the OMS's legacy field names.
func (c *OrderCommand) UnmarshalJSON(b []byte) error {
	type plain OrderCommand
	aux := struct {
		*plain
		OwnOrderID     flexID  `json:"ownOrderId"`
		VenueOrderID   flexID  `json:"venueOrderId"`
		BlitzOrderID   flexID  `json:"BlitzOrderID"`
		OrderID        flexID  `json:"order_id"`
		InstrumentName string  `json:"InstrumentName"`
		OrderSide      string  `json:"orderSide"`
		OrderType      string  `json:"orderType"`
		Quantity       float64 `json:"quantity"`
		Price          float64 `json:"price"`
		StopPrice      float64 `json:"stopPrice"`
		TIF            string  `json:"tif"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	c.OwnOrderID = firstNonEmpty(string(aux.OwnOrderID), string(aux.BlitzOrderID))
	c.VenueOrderID = firstNonEmpty(string(aux.VenueOrderID), string(aux.OrderID))
	c.Instrument = firstNonEmpty(c.Instrument, aux.InstrumentName)
	c.Side = firstNonEmpty(c.Side, aux.OrderSide)
	c.Type = firstNonEmpty(c.Type, aux.OrderType)
	c.Validity = firstNonEmpty(c.Validity, aux.TIF)
	if c.Qty == 0 {
		c.Qty = aux.Quantity
	}
	if c.LimitPrice == 0 {
		c.LimitPrice = aux.Price
	}
	if c.TriggerPrice == 0 {
		c.TriggerPrice = aux.StopPrice
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Ref is the id a modify/cancel/details command addresses.
func (c OrderCommand) Ref() (string, error) {
	if ref := firstNonEmpty(c.OwnOrderID, c.VenueOrderID); ref != "" {
		return ref, nil
	}
	return "", ErrMissingOrderRef
}

func (c OrderCommand) validatePlacement() error {
	switch {
	case c.Instrument == "":
		return fmt.Errorf("%w: instrument required", ErrInvalidOrder)
	case c.Qty <= 0:
		return fmt.Errorf("%w: qty must be positive", ErrInvalidOrder)
	}
	switch venue.Side(strings.ToUpper(c.Side)) {
	case venue.SideBuy, venue.SideSell:
	default:
		return fmt.Errorf("%w: side must be BUY or SELL, got %q", ErrInvalidOrder, c.Side)
	}
	return nil
}

// Exchange truncates a segment such as NSECM to its exchange code.
func Exchange(segment string) string {
	segment = strings.ToUpper(strings.TrimSpace(segment))
	if segment == "" {
		return defaultExchange
	}
	if len(segment) > 3 {
		return segment[:3]
	}
	return segment
}

func orderType(t string, price, trigger float64) venue.OrderType {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "":
		switch {
		case trigger > 0 && price > 0:
			return venue.OrderTypeStopLoss
		case trigger > 0:
			return venue.OrderTypeStopMkt
		case price > 0:
			return venue.OrderTypeLimit
		}
		return venue.OrderTypeMarket
	case "STOPLIMIT", "STOP_LIMIT", "SL":
		return venue.OrderTypeStopLoss
	case "STOPMARKET", "STOP_MARKET", "SL-M":
		return venue.OrderTypeStopMkt
	default:
		return venue.OrderType(strings.ToUpper(t))
	}
}

func (c OrderCommand) params() venue.OrderParams {
	p := venue.OrderParams{
		Instrument:        c.Instrument,
		Side:              venue.Side(strings.ToUpper(c.Side)),
		Quantity:          c.Qty,
		Product:           strings.ToUpper(c.Product),
		Price:             c.LimitPrice,
		TriggerPrice:      c.TriggerPrice,
		Validity:          strings.ToUpper(c.Validity),
		DisclosedQuantity: c.DisclosedQty,
	}
	if c.Instrument != "" || c.ExchangeSegment != "" {
		p.Exchange = Exchange(c.ExchangeSegment)
	}
	if c.Type != "" || c.Instrument != "" {
		p.Type = orderType(c.Type, c.LimitPrice, c.TriggerPrice)
	}
	if len(c.OwnOrderID) <= maxTagLen {
		p.Tag = c.OwnOrderID
	}
	return p
}

// ackPayload rebuilds an order document from what was sent and what the
// venue acknowledged, so command results share the streaming schema.
func ackPayload(p venue.OrderParams, ack venue.OrderAck) venue.Payload {
	doc := venue.Payload{}
	set := func(k string, v any, ok bool) {
		if ok {
			doc[k] = v
		}
	}
	set("tradingsymbol", p.Instrument, p.Instrument != "")
	set("exchange", p.Exchange, p.Exchange != "")
	set("transaction_type", string(p.Side), p.Side != "")
	set("order_type", string(p.Type), p.Type != "")
	set("product", p.Product, p.Product != "")
	set("validity", p.Validity, p.Validity != "")
	set("quantity", p.Quantity, p.Quantity != 0)
	set("pending_quantity", p.Quantity, p.Quantity != 0)
	set("price", p.Price, p.Price != 0)
	set("trigger_price", p.TriggerPrice, p.TriggerPrice != 0)
	set("disclosed_quantity", p.DisclosedQuantity, p.DisclosedQuantity != 0)
	for k, v := range ack.Raw {
		doc[k] = v
	}
	doc["order_id"] = ack.OrderID
	return doc
}
