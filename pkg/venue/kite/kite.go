// Package kite talks to Zerodha Kite Connect v3: REST for auth, orders and
// portfolio, and the ticker websocket for order updates and quotes.
package kite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"oms-gateway/pkg/venue"
)

const (
	DefaultAPIURL   = "https://api.kite.trade"
	DefaultLoginURL = "https://kite.zerodha.com/connect/login"
	DefaultWSURL    = "wss://ws.kite.trade"

	apiVersion = "3"
	venueName  = "zerodha"
)

// Config holds the endpoints and client limits shared by every tenant.
type Config struct {
	APIURL      string
	LoginURL    string
	WSURL       string
	RateLimit   float64 // requests per second per tenant
	Burst       int
	HTTPTimeout time.Duration
	Logger      *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginURL
	}
	if c.WSURL == "" {
		c.WSURL = DefaultWSURL
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Client is one tenant's Kite Connect app.
type Client struct {
	cfg        Config
	creds      venue.Credentials
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// New returns a client for the tenant's app credentials.
func New(cfg Config, creds venue.Credentials) (*Client, error) {
	if creds.APIKey == "" {
		return nil, venue.ErrMissingCredentials
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		creds:      creds.WithDefaults(),
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		log:        cfg.Logger.Named("kite").With(zap.String("api_key", creds.APIKey)),
	}, nil
}

func (c *Client) Name() string { return venueName }

// LoginURL is where the user signs in to obtain a request token.
func (c *Client) LoginURL() string {
	q := url.Values{}
	q.Set("v", apiVersion)
	q.Set("api_key", c.creds.APIKey)
	return c.cfg.LoginURL + "?" + q.Encode()
}

// checksum is sha256(api_key + request_token + api_secret) in hex.
func checksum(apiKey, requestToken, apiSecret string) string {
	sum := sha256.Sum256([]byte(apiKey + requestToken + apiSecret))
	return hex.EncodeToString(sum[:])
}

// Authenticate exchanges a request token for an access token.
func (c *Client) Authenticate(ctx context.Context, requestToken string) (venue.Session, error) {
	if c.creds.APISecret == "" {
		return venue.Session{}, venue.ErrMissingCredentials
	}
	form := url.Values{}
	form.Set("api_key", c.creds.APIKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", checksum(c.creds.APIKey, requestToken, c.creds.APISecret))

	var data venue.Payload
	if err := c.do(ctx, http.MethodPost, "/session/token", "", form, &data); err != nil {
		return venue.Session{}, err
	}
	sess := venue.Session{Raw: data}
	sess.AccessToken, _ = data["access_token"].(string)
	sess.UserID, _ = data["user_id"].(string)
	if sess.AccessToken == "" {
		return sess, venue.ErrMissingToken
	}
	c.log.Info("session token issued", zap.String("user_id", sess.UserID))
	return sess, nil
}

func (c *Client) Trader(accessToken string) venue.Trader {
	return &trader{c: c, token: accessToken}
}

func (c *Client) Streamer(accessToken string) venue.Streamer {
	return &streamer{c: c, token: accessToken}
}
