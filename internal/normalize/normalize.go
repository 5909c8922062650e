// Package normalize maps venue payloads onto canonical records.
//
// Every function returns a usable record. A non-nil error lists the fields
// that had to be zeroed; callers log it and carry on.
package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"oms-gateway/internal/canonical"
	"oms-gateway/pkg/venue"
)

var statusTable = map[string]canonical.Status{
	"OPEN":      canonical.StatusNew,
	"COMPLETE":  canonical.StatusFilled,
	"CANCELLED": canonical.StatusCancelled,
	"REJECTED":  canonical.StatusRejected,
}

// Status maps a venue status onto the canonical set. Unknown statuses are
// returned unchanged.
func Status(raw string) canonical.Status {
	if s, ok := statusTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return canonical.Status(raw)
}

// Order normalizes a single order document.
func Order(p venue.Payload) (canonical.Order, error) {
	r := newReader(p)
	status := Status(r.str("status"))

	filled := r.num("filled_quantity")
	avg := r.num("average_price")
	traded, _ := decimal.NewFromFloat(avg).Mul(decimal.NewFromFloat(filled)).Float64()

	o := canonical.Order{
		OwnOrderID:           r.str("tag"),
		VenueOrderID:         r.str("order_id"),
		ExchangeOrderID:      r.str("exchange_order_id"),
		Instrument:           r.str("tradingsymbol"),
		InstrumentToken:      r.int("instrument_token"),
		ExchangeSegment:      r.str("exchange"),
		Product:              r.str("product"),
		Side:                 strings.ToUpper(r.str("transaction_type")),
		Type:                 strings.ToUpper(r.str("order_type")),
		Validity:             r.str("validity"),
		Status:               status,
		StatusMessage:        r.str("status_message"),
		OrderedQty:           r.num("quantity"),
		FilledQty:            filled,
		RemainingQty:         r.firstNum("pending_quantity", "unfilled_quantity"),
		CancelledQty:         r.num("cancelled_quantity"),
		DisclosedQty:         r.num("disclosed_quantity"),
		LimitPrice:           r.num("price"),
		TriggerPrice:         r.num("trigger_price"),
		AvgTradedPrice:       avg,
		TradedValue:          traded,
		GeneratedTime:        r.time("order_timestamp"),
		ExchangeTransactTime: r.time("exchange_timestamp"),
		IsCompleted:          status.Completed(),
	}
	return o, r.err()
}

// Orders normalizes an order list.
func Orders(ps []venue.Payload) ([]canonical.Order, error) {
	out := make([]canonical.Order, 0, len(ps))
	var errs []error
	for _, p := range ps {
		o, err := Order(p)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, o)
	}
	return out, join(errs)
}

// Positions normalizes the net and day position views.
func Positions(b venue.PositionBook) (canonical.PositionBook, error) {
	net, errNet := positions(b.Net)
	day, errDay := positions(b.Day)
	return canonical.PositionBook{Net: net, Day: day}, join([]error{errNet, errDay})
}

func positions(ps []venue.Payload) ([]canonical.Position, error) {
	out := make([]canonical.Position, 0, len(ps))
	var errs []error
	for _, p := range ps {
		r := newReader(p)
		pos := canonical.Position{
			Instrument:      r.str("tradingsymbol"),
			InstrumentToken: r.int("instrument_token"),
			ExchangeSegment: r.str("exchange"),
			Product:         r.str("product"),
			NetQty:          r.num("quantity"),
			BuyQty:          r.num("buy_quantity"),
			SellQty:         r.num("sell_quantity"),
			AvgPrice:        r.num("average_price"),
			LastPrice:       r.num("last_price"),
			RealizedPnL:     r.num("realised"),
			UnrealizedPnL:   r.num("unrealised"),
		}
		if r.has("pnl") {
			pos.PnL = r.num("pnl")
		} else {
			pos.PnL, _ = decimal.NewFromFloat(pos.RealizedPnL).Add(decimal.NewFromFloat(pos.UnrealizedPnL)).Float64()
		}
		if err := r.err(); err != nil {
			errs = append(errs, err)
		}
		out = append(out, pos)
	}
	return out, join(errs)
}

// Holdings normalizes a holding list.
func Holdings(ps []venue.Payload) ([]canonical.Holding, error) {
	out := make([]canonical.Holding, 0, len(ps))
	var errs []error
	for _, p := range ps {
		r := newReader(p)
		h := canonical.Holding{
			Instrument:      r.str("tradingsymbol"),
			InstrumentToken: r.int("instrument_token"),
			ExchangeSegment: r.str("exchange"),
			ISIN:            r.str("isin"),
			Qty:             r.num("quantity"),
			T1Qty:           r.num("t1_quantity"),
			AvgPrice:        r.num("average_price"),
			LastPrice:       r.num("last_price"),
		}
		qty := decimal.NewFromFloat(h.Qty).Add(decimal.NewFromFloat(h.T1Qty))
		last := decimal.NewFromFloat(h.LastPrice)
		h.Value, _ = qty.Mul(last).Float64()
		if r.has("pnl") {
			h.PnL = r.num("pnl")
		} else {
			h.PnL, _ = last.Sub(decimal.NewFromFloat(h.AvgPrice)).Mul(qty).Float64()
		}
		if err := r.err(); err != nil {
			errs = append(errs, err)
		}
		out = append(out, h)
	}
	return out, join(errs)
}
