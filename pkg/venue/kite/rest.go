package kite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oms-gateway/pkg/venue"
)

const defaultValidity = "DAY"

// envelope is the body shape of every Kite REST response.
type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	ErrorType string          `json:"error_type"`
	Message   string          `json:"message"`
}

// do performs one rate-limited call and decodes envelope.data into out.
func (c *Client) do(ctx context.Context, method, path, token string, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.cfg.APIURL + path
	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if len(form) > 0 {
			endpoint += "?" + form.Encode()
		}
	default:
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-Kite-Version", apiVersion)
	if token != "" {
		req.Header.Set("Authorization", "token "+c.creds.APIKey+":"+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("kite %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("kite %s %s: read body: %w", method, path, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if res.StatusCode >= 300 || env.Status == "error" {
		msg := env.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		c.log.Debug("kite call rejected",
			zap.String("method", method), zap.String("path", path),
			zap.Int("status", res.StatusCode), zap.String("error_type", env.ErrorType))
		return &venue.Error{Status: res.StatusCode, Code: env.ErrorType, Message: msg}
	}
	if decodeErr != nil {
		return fmt.Errorf("kite %s %s: decode: %w", method, path, decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("kite %s %s: decode data: %w", method, path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return decimal.NewFromFloat(v).String()
}

type trader struct {
	c     *Client
	token string
}

func (t *trader) call(ctx context.Context, method, path string, form url.Values, out any) error {
	if t.token == "" {
		return venue.ErrMissingToken
	}
	return t.c.do(ctx, method, path, t.token, form, out)
}

func (t *trader) ack(ctx context.Context, method, path string, form url.Values) (venue.OrderAck, error) {
	var data venue.Payload
	if err := t.call(ctx, method, path, form, &data); err != nil {
		return venue.OrderAck{}, err
	}
	id := ""
	switch v := data["order_id"].(type) {
	case string:
		id = v
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return venue.OrderAck{OrderID: id, Raw: data}, nil
}

func (t *trader) PlaceOrder(ctx context.Context, p venue.OrderParams) (venue.OrderAck, error) {
	form := url.Values{}
	form.Set("tradingsymbol", p.Instrument)
	form.Set("exchange", p.Exchange)
	form.Set("transaction_type", string(p.Side))
	form.Set("order_type", string(p.Type))
	form.Set("quantity", formatFloat(p.Quantity))
	form.Set("product", p.Product)
	validity := p.Validity
	if validity == "" {
		validity = defaultValidity
	}
	form.Set("validity", validity)
	if p.Price > 0 {
		form.Set("price", formatFloat(p.Price))
	}
	if p.TriggerPrice > 0 {
		form.Set("trigger_price", formatFloat(p.TriggerPrice))
	}
	if p.DisclosedQuantity > 0 {
		form.Set("disclosed_quantity", formatFloat(p.DisclosedQuantity))
	}
	if p.Tag != "" {
		form.Set("tag", p.Tag)
	}
	return t.ack(ctx, http.MethodPost, "/orders/regular", form)
}

func (t *trader) ModifyOrder(ctx context.Context, orderID string, p venue.OrderParams) (venue.OrderAck, error) {
	form := url.Values{}
	if p.Type != "" {
		form.Set("order_type", string(p.Type))
	}
	if p.Quantity > 0 {
		form.Set("quantity", formatFloat(p.Quantity))
	}
	if p.Price > 0 {
		form.Set("price", formatFloat(p.Price))
	}
	if p.TriggerPrice > 0 {
		form.Set("trigger_price", formatFloat(p.TriggerPrice))
	}
	if p.Validity != "" {
		form.Set("validity", p.Validity)
	}
	if p.DisclosedQuantity > 0 {
		form.Set("disclosed_quantity", formatFloat(p.DisclosedQuantity))
	}
	return t.ack(ctx, http.MethodPut, "/orders/regular/"+url.PathEscape(orderID), form)
}

func (t *trader) CancelOrder(ctx context.Context, orderID string) (venue.OrderAck, error) {
	return t.ack(ctx, http.MethodDelete, "/orders/regular/"+url.PathEscape(orderID), nil)
}

func (t *trader) Orders(ctx context.Context) ([]venue.Payload, error) {
	var out []venue.Payload
	err := t.call(ctx, http.MethodGet, "/orders", nil, &out)
	return out, err
}

func (t *trader) OrderHistory(ctx context.Context, orderID string) ([]venue.Payload, error) {
	var out []venue.Payload
	err := t.call(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &out)
	return out, err
}

func (t *trader) Holdings(ctx context.Context) ([]venue.Payload, error) {
	var out []venue.Payload
	err := t.call(ctx, http.MethodGet, "/portfolio/holdings", nil, &out)
	return out, err
}

func (t *trader) Positions(ctx context.Context) (venue.PositionBook, error) {
	var out struct {
		Net []venue.Payload `json:"net"`
		Day []venue.Payload `json:"day"`
	}
	if err := t.call(ctx, http.MethodGet, "/portfolio/positions", nil, &out); err != nil {
		return venue.PositionBook{}, err
	}
	return venue.PositionBook{Net: out.Net, Day: out.Day}, nil
}
