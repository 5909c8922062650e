// Package router consumes OMS commands from the bus and answers them.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oms-gateway/internal/bus"
	"oms-gateway/internal/canonical"
	"oms-gateway/internal/monitor"
	"oms-gateway/internal/session"
	"oms-gateway/pkg/venue"
)

var (
	ErrInvalidEnvelope = errors.New("router: invalid envelope")
	ErrInvalidData     = errors.New("router: invalid action data")
	ErrUnknownAction   = errors.New("router: unknown action")
)

const defaultCommandTimeout = 30 * time.Second

// Sessions resolves tenant sessions.
type Sessions interface {
	Get(key session.Key) (*session.Session, bool)
	GetOrCreate(key session.Key, creds *venue.Credentials) (*session.Session, error)
}

// CredentialSource supplies stored credentials for tenants whose first
// command carries none, and remembers credentials that arrive inline.
type CredentialSource interface {
	Load(ctx context.Context, key session.Key) (venue.Credentials, bool, error)
	Upsert(ctx context.Context, key session.Key, creds venue.Credentials) error
}

// Publisher sends an envelope on a bus channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, v any) error
}

// Config names the router's channels.
type Config struct {
	RequestChannel  string
	ResponseChannel string
	CommandTimeout  time.Duration
}

// Router decodes each inbound message and handles it on its own goroutine.
type Router struct {
	cfg      Config
	bus      bus.Bus
	pub      Publisher
	sessions Sessions
	creds    CredentialSource
	log      *zap.Logger
	metrics  *monitor.Metrics

	wg    sync.WaitGroup
	ready atomic.Bool
}

// New creates a router. creds may be nil.
func New(cfg Config, b bus.Bus, pub Publisher, sessions Sessions, creds CredentialSource, log *zap.Logger, metrics *monitor.Metrics) *Router {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		cfg:      cfg,
		bus:      b,
		pub:      pub,
		sessions: sessions,
		creds:    creds,
		log:      log.Named("router"),
		metrics:  metrics,
	}
}

// Ready reports whether the router is subscribed to the command channel.
func (r *Router) Ready() bool { return r.ready.Load() }

// Run listens until ctx is done. The loop only spawns handlers; in-flight
// handlers keep running after Run returns, see Wait.
func (r *Router) Run(ctx context.Context) error {
	msgs, err := r.bus.Subscribe(ctx, r.cfg.RequestChannel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.cfg.RequestChannel, err)
	}
	r.ready.Store(true)
	defer r.ready.Store(false)
	r.log.Info("listening for commands", zap.String("channel", r.cfg.RequestChannel))

	handlerCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return bus.ErrClosed
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.Handle(handlerCtx, m.Payload)
			}()
		}
	}
}

// Wait blocks until in-flight handlers finish or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle processes one raw message. Malformed envelopes are logged and
// dropped; everything else is answered on the response channel.
func (r *Router) Handle(ctx context.Context, raw []byte) {
	start := time.Now()
	cmd, err := decodeCommand(raw)
	if err != nil {
		r.metrics.EnvelopeDropped()
		r.log.Warn("dropping command", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	log := r.log.With(
		zap.String("request_id", cmd.RequestID),
		zap.String("tenant", cmd.Broker+":"+cmd.EntityID),
		zap.String("action", cmd.Action),
	)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CommandTimeout)
	defer cancel()

	resp := canonical.Response{
		RequestID: cmd.RequestID,
		Broker:    cmd.Broker,
		EntityID:  cmd.EntityID,
		Action:    cmd.Action,
		Status:    canonical.StatusSuccess,
	}
	data, err := r.safeDispatch(ctx, log, cmd)
	if err != nil {
		msg := errorMessage(err)
		resp.Status = canonical.StatusError
		resp.Error = &msg
		log.Warn("command failed", zap.Error(err))
	} else {
		resp.Data = data
		log.Debug("command handled", zap.Duration("took", time.Since(start)))
	}
	r.metrics.ObserveCommand(cmd.Action, resp.Status, time.Since(start))

	if err := r.pub.Publish(ctx, r.cfg.ResponseChannel, resp); err != nil {
		log.Error("publish response", zap.Error(err))
	}
}

func decodeCommand(raw []byte) (canonical.Command, error) {
	var cmd canonical.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	switch {
	case cmd.Broker == "":
		return cmd, fmt.Errorf("%w: broker missing", ErrInvalidEnvelope)
	case cmd.EntityID == "":
		return cmd, fmt.Errorf("%w: entity_id missing", ErrInvalidEnvelope)
	}
	return cmd, nil
}

func (r *Router) safeDispatch(ctx context.Context, log *zap.Logger, cmd canonical.Command) (data any, err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("command panicked", zap.Any("panic", p), zap.Stack("stack"))
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return r.dispatch(ctx, cmd)
}

// errorMessage is the text returned to the OMS. Venue rejections carry the
// venue's own message.
func errorMessage(err error) string {
	if ve, ok := venue.AsError(err); ok && !errors.Is(err, session.ErrAuth) {
		return ve.Message
	}
	return err.Error()
}

func (r *Router) session(ctx context.Context, key session.Key, rawCreds json.RawMessage) (*session.Session, error) {
	if s, ok := r.sessions.Get(key); ok {
		return s, nil
	}
	creds, inline, err := r.credentials(ctx, key, rawCreds)
	if err != nil {
		return nil, err
	}
	s, err := r.sessions.GetOrCreate(key, creds)
	if err != nil {
		return nil, err
	}
	if inline {
		r.remember(ctx, key, *creds)
	}
	return s, nil
}

// credentials prefers the envelope's inline credentials over the store.
func (r *Router) credentials(ctx context.Context, key session.Key, raw json.RawMessage) (*venue.Credentials, bool, error) {
	if !isEmpty(raw) {
		var c venue.Credentials
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, false, fmt.Errorf("%w: credentials: %v", ErrInvalidData, err)
		}
		return &c, true, nil
	}
	if r.creds == nil {
		return nil, false, nil
	}
	c, ok, err := r.creds.Load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load credentials for %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &c, false, nil
}

// remember stores inline credentials so later logins can persist their
// token. A stored token is kept when the envelope carries none.
func (r *Router) remember(ctx context.Context, key session.Key, creds venue.Credentials) {
	if r.creds == nil {
		return
	}
	if creds.AccessToken == "" {
		if prev, ok, err := r.creds.Load(ctx, key); err == nil && ok {
			creds.AccessToken = prev.AccessToken
		}
	}
	if err := r.creds.Upsert(ctx, key, creds); err != nil {
		r.log.Warn("store tenant credentials", zap.String("tenant", key.String()), zap.Error(err))
	}
}

func isEmpty(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func decodeData(raw json.RawMessage, v any) error {
	if isEmpty(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return nil
}
