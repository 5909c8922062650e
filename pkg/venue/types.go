package venue

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes the order types a venue accepts.
type OrderType string

const (
	OrderTypeMarket   OrderType = "MARKET"
	OrderTypeLimit    OrderType = "LIMIT"
	OrderTypeStopLoss OrderType = "SL"   // stop-loss limit
	OrderTypeStopMkt  OrderType = "SL-M" // stop-loss market
)

// Payload is a decoded venue document (order, position, holding, push event).
// Field names are the venue's own; the normalizer owns their interpretation.
type Payload map[string]any

// Credentials identify one tenant account at a venue.
type Credentials struct {
	APIKey      string `json:"api_key" yaml:"api_key"`
	APISecret   string `json:"api_secret" yaml:"api_secret"`
	RedirectURL string `json:"redirect_url,omitempty" yaml:"redirect_url"`
	UserID      string `json:"user_id,omitempty" yaml:"user_id"`
	AccessToken string `json:"access_token,omitempty" yaml:"access_token"`
}

// DefaultRedirectURL is used when a tenant has no redirect target configured.
const DefaultRedirectURL = "http://localhost"

// WithDefaults fills optional fields.
func (c Credentials) WithDefaults() Credentials {
	if c.RedirectURL == "" {
		c.RedirectURL = DefaultRedirectURL
	}
	return c
}

// OrderParams captures an order intent. For modifications zero values mean
// "leave unchanged".
type OrderParams struct {
	Instrument        string
	Exchange          string
	Side              Side
	Type              OrderType
	Quantity          float64
	Product           string
	Price             float64
	TriggerPrice      float64
	Validity          string
	DisclosedQuantity float64
	Tag               string
}

// OrderAck is the venue acknowledgement of an order command.
type OrderAck struct {
	OrderID string
	Raw     Payload
}

// Session is the result of a successful token exchange.
type Session struct {
	AccessToken string
	UserID      string
	Raw         Payload
}

// PositionBook groups the net and day views of open positions.
type PositionBook struct {
	Net []Payload
	Day []Payload
}

// LifecycleKind classifies streaming connection events.
type LifecycleKind string

const (
	LifecycleConnected    LifecycleKind = "CONNECTED"
	LifecycleDisconnected LifecycleKind = "DISCONNECTED"
	LifecycleError        LifecycleKind = "ERROR"
	LifecycleReconnecting LifecycleKind = "RECONNECTING"
)

// Lifecycle is a connection event emitted by a Feed.
type Lifecycle struct {
	Kind   LifecycleKind
	Code   int
	Reason string
}

// Tick is a decoded market-data update.
type Tick struct {
	InstrumentToken uint32
	LastPrice       float64
}

// Subscription modes accepted by Feed.Subscribe.
const (
	ModeLTP   = "ltp"
	ModeQuote = "quote"
	ModeFull  = "full"
)
