package kite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"oms-gateway/pkg/venue"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	// Kite sends a one-byte heartbeat every second.
	readTimeout = 30 * time.Second
	feedBuffer  = 256
)

type streamer struct {
	c     *Client
	token string
}

// Connect dials the ticker and starts the read loop.
func (s *streamer) Connect(ctx context.Context) (venue.Feed, error) {
	if s.token == "" {
		return nil, venue.ErrMissingToken
	}
	u, err := url.Parse(s.c.cfg.WSURL)
	if err != nil {
		return nil, fmt.Errorf("kite ticker url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", s.c.creds.APIKey)
	q.Set("access_token", s.token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshakeTimeout}
	conn, res, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if res != nil && res.StatusCode >= 400 {
			return nil, &venue.Error{Status: res.StatusCode, Code: "TokenException", Message: "ticker handshake rejected: " + res.Status}
		}
		return nil, fmt.Errorf("kite ticker dial: %w", err)
	}

	f := &feed{
		conn:   conn,
		orders: make(chan venue.Payload, feedBuffer),
		ticks:  make(chan venue.Tick, feedBuffer),
		events: make(chan venue.Lifecycle, 8),
		done:   make(chan struct{}),
		log:    s.c.log.Named("ticker"),
	}
	f.events <- venue.Lifecycle{Kind: venue.LifecycleConnected}
	go f.read()
	s.c.log.Info("ticker connected")
	return f, nil
}

type feed struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	orders chan venue.Payload
	ticks  chan venue.Tick
	events chan venue.Lifecycle

	closeOnce sync.Once
	done      chan struct{}
	log       *zap.Logger
}

func (f *feed) Orders() <-chan venue.Payload       { return f.orders }
func (f *feed) Ticks() <-chan venue.Tick           { return f.ticks }
func (f *feed) Lifecycle() <-chan venue.Lifecycle { return f.events }

type textMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (f *feed) read() {
	final := venue.Lifecycle{Kind: venue.LifecycleDisconnected, Code: websocket.CloseNormalClosure, Reason: "closed by client"}
	defer func() {
		// The buffer always has room for the final event unless the consumer
		// has gone away, in which case nobody is listening anyway.
		select {
		case f.events <- final:
		default:
		}
		close(f.orders)
		close(f.ticks)
		close(f.events)
	}()

	for {
		_ = f.conn.SetReadDeadline(time.Now().Add(readTimeout))
		mt, msg, err := f.conn.ReadMessage()
		if err != nil {
			if f.closed() {
				return
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				final.Code, final.Reason = ce.Code, ce.Text
			} else {
				f.emitEvent(venue.Lifecycle{Kind: venue.LifecycleError, Reason: err.Error()})
				final.Code, final.Reason = websocket.CloseAbnormalClosure, err.Error()
			}
			f.log.Warn("ticker read ended", zap.Int("code", final.Code), zap.String("reason", final.Reason))
			return
		}
		switch mt {
		case websocket.BinaryMessage:
			for _, t := range decodeTicks(msg) {
				select {
				case f.ticks <- t:
				case <-f.done:
					return
				}
			}
		case websocket.TextMessage:
			f.handleText(msg)
		}
	}
}

func (f *feed) handleText(msg []byte) {
	var m textMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		f.log.Warn("ticker text message parse error", zap.Error(err))
		return
	}
	switch m.Type {
	case "order":
		var p venue.Payload
		if err := json.Unmarshal(m.Data, &p); err != nil {
			f.log.Warn("order update parse error", zap.Error(err))
			return
		}
		select {
		case f.orders <- p:
		case <-f.done:
		}
	case "error":
		var reason string
		if err := json.Unmarshal(m.Data, &reason); err != nil {
			reason = string(m.Data)
		}
		f.emitEvent(venue.Lifecycle{Kind: venue.LifecycleError, Reason: reason})
	default:
		f.log.Debug("ticker message ignored", zap.String("type", m.Type))
	}
}

func (f *feed) emitEvent(ev venue.Lifecycle) {
	select {
	case f.events <- ev:
	case <-f.done:
	}
}

func (f *feed) closed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *feed) writeJSON(v any) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if f.closed() {
		return venue.ErrFeedClosed
	}
	_ = f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

// Subscribe adds tokens and sets their streaming mode.
func (f *feed) Subscribe(tokens []uint32, mode string) error {
	if len(tokens) == 0 {
		return nil
	}
	if mode == "" {
		mode = venue.ModeQuote
	}
	if err := f.writeJSON(map[string]any{"a": "subscribe", "v": tokens}); err != nil {
		return fmt.Errorf("kite subscribe: %w", err)
	}
	if err := f.writeJSON(map[string]any{"a": "mode", "v": []any{mode, tokens}}); err != nil {
		return fmt.Errorf("kite set mode: %w", err)
	}
	return nil
}

// Close ends the connection. The read loop then emits the final
// DISCONNECTED event and closes the channels.
func (f *feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.writeMu.Lock()
		close(f.done)
		_ = f.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
		f.writeMu.Unlock()
		err = f.conn.Close()
	})
	return err
}
