package router

import (
	"context"
	"fmt"

	"oms-gateway/internal/canonical"
	"oms-gateway/internal/session"
)

type loginData struct {
	RequestToken      string `json:"request_token"`
	RequestTokenCamel string `json:"requestToken"`
}

type subscribeData struct {
	Tokens           []uint32 `json:"tokens"`
	InstrumentTokens []uint32 `json:"instrument_tokens"`
	Mode             string   `json:"mode"`
}

// LoginResult is the data of a successful LOGIN.
type LoginResult struct {
	AccessToken string `json:"access_token"`
}

// StateResult reports a session's state after LOGOUT.
type StateResult struct {
	State string `json:"state"`
}

// LoginURLResult is the data of GET_LOGIN_URL.
type LoginURLResult struct {
	LoginURL string `json:"login_url"`
}

// SubscribeResult is the data of SUBSCRIBE_MARKET_DATA.
type SubscribeResult struct {
	Tokens []uint32 `json:"tokens"`
	Mode   string   `json:"mode"`
}

var knownActions = map[string]bool{
	canonical.ActionLogin:               true,
	canonical.ActionLogout:              true,
	canonical.ActionGetLoginURL:         true,
	canonical.ActionPlaceOrder:          true,
	canonical.ActionModifyOrder:         true,
	canonical.ActionCancelOrder:         true,
	canonical.ActionGetOrders:           true,
	canonical.ActionGetOrderDetails:     true,
	canonical.ActionGetHoldings:         true,
	canonical.ActionGetPositions:        true,
	canonical.ActionSubscribeMarketData: true,
}

func (r *Router) dispatch(ctx context.Context, cmd canonical.Command) (any, error) {
	if !knownActions[cmd.Action] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
	}
	s, err := r.session(ctx, session.Key{Venue: cmd.Broker, Entity: cmd.EntityID}, cmd.Credentials)
	if err != nil {
		return nil, err
	}

	switch cmd.Action {
	case canonical.ActionLogin:
		var d loginData
		if err := decodeData(cmd.Data, &d); err != nil {
			return nil, err
		}
		token := d.RequestToken
		if token == "" {
			token = d.RequestTokenCamel
		}
		access, err := s.Login(ctx, token)
		if err != nil {
			return nil, err
		}
		return LoginResult{AccessToken: access}, nil

	case canonical.ActionLogout:
		if err := s.Logout(ctx); err != nil {
			return nil, err
		}
		return StateResult{State: s.State().String()}, nil

	case canonical.ActionGetLoginURL:
		return LoginURLResult{LoginURL: s.LoginURL()}, nil

	case canonical.ActionPlaceOrder, canonical.ActionModifyOrder, canonical.ActionCancelOrder, canonical.ActionGetOrderDetails:
		var oc session.OrderCommand
		if err := decodeData(cmd.Data, &oc); err != nil {
			return nil, err
		}
		switch cmd.Action {
		case canonical.ActionPlaceOrder:
			return s.PlaceOrder(ctx, oc)
		case canonical.ActionModifyOrder:
			return s.ModifyOrder(ctx, oc)
		case canonical.ActionCancelOrder:
			return s.CancelOrder(ctx, oc)
		default:
			return s.OrderDetails(ctx, oc)
		}

	case canonical.ActionGetOrders:
		return s.Orders(ctx)

	case canonical.ActionGetHoldings:
		return s.Holdings(ctx)

	case canonical.ActionGetPositions:
		return s.Positions(ctx)

	case canonical.ActionSubscribeMarketData:
		var d subscribeData
		if err := decodeData(cmd.Data, &d); err != nil {
			return nil, err
		}
		tokens := append(d.Tokens, d.InstrumentTokens...)
		if err := s.SubscribeMarketData(tokens, d.Mode); err != nil {
			return nil, err
		}
		return SubscribeResult{Tokens: tokens, Mode: d.Mode}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, cmd.Action)
}
