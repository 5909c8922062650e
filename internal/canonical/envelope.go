package canonical

import "encoding/json"

// Action names recognised on the command channel.
const (
	ActionLogin               = "LOGIN"
	ActionLogout              = "LOGOUT"
	ActionGetLoginURL         = "GET_LOGIN_URL"
	ActionPlaceOrder          = "PLACE_ORDER"
	ActionModifyOrder         = "MODIFY_ORDER"
	ActionCancelOrder         = "CANCEL_ORDER"
	ActionGetOrders           = "GET_ORDERS"
	ActionGetOrderDetails     = "GET_ORDER_DETAILS"
	ActionGetHoldings         = "GET_HOLDINGS"
	ActionGetPositions        = "GET_POSITIONS"
	ActionSubscribeMarketData = "SUBSCRIBE_MARKET_DATA"
)

// Response statuses.
const (
	StatusSuccess = "SUCCESS"
	StatusError   = "ERROR"
)

// Streaming message types.
const (
	MessageOrderUpdate = "ORDER_UPDATE"
	MessageSystemEvent = "SYSTEM_EVENT"
	MessageMarketData  = "MARKET_DATA"
)

// Command is an inbound bus message.
type Command struct {
	RequestID   string          `json:"request_id,omitempty"`
	Broker      string          `json:"broker"`
	EntityID    string          `json:"entity_id"`
	Action      string          `json:"action"`
	Data        json.RawMessage `json:"data,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

// Response answers one Command.
type Response struct {
	RequestID string  `json:"request_id,omitempty"`
	Broker    string  `json:"broker"`
	EntityID  string  `json:"entity_id"`
	Action    string  `json:"action"`
	Status    string  `json:"status"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
}

// StreamMessage carries a push event to the OMS.
type StreamMessage struct {
	MessageType string `json:"message_type"`
	Broker      string `json:"broker"`
	EntityID    string `json:"entity_id"`
	Data        any    `json:"data"`
}

// SystemEvent is the data of a SYSTEM_EVENT message.
type SystemEvent struct {
	Source string `json:"source"`
	Status string `json:"status"`
	Code   int    `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
	Node   string `json:"node,omitempty"`
}

// MarketData is the data of a MARKET_DATA message.
type MarketData struct {
	InstrumentToken uint32  `json:"instrumentToken"`
	LastPrice       float64 `json:"lastPrice"`
}
