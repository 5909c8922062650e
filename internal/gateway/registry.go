// Package gateway owns the process-wide registry of tenant sessions.
package gateway

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"oms-gateway/internal/monitor"
	"oms-gateway/internal/session"
	"oms-gateway/pkg/venue"
)

var (
	ErrUnknownVenue  = errors.New("gateway: unknown venue")
	ErrNoCredentials = errors.New("gateway: no credentials for tenant")
	ErrClosed        = errors.New("gateway: registry closed")
)

// Registry caches one Session per tenant key for the life of the process.
// Entries are never evicted.
type Registry struct {
	mu       sync.RWMutex
	sessions map[session.Key]*session.Session
	closed   bool

	venues  Venues
	opts    session.Options
	log     *zap.Logger
	metrics *monitor.Metrics
}

// NewRegistry creates an empty registry. opts is handed to every session.
func NewRegistry(venues Venues, opts session.Options) *Registry {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[session.Key]*session.Session),
		venues:   venues,
		opts:     opts,
		log:      log.Named("registry"),
		metrics:  opts.Metrics,
	}
}

// Get returns the session for key if one exists.
func (r *Registry) Get(key session.Key) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// GetOrCreate returns the session for key, creating it from creds on first
// sighting. creds is ignored when the session already exists.
func (r *Registry) GetOrCreate(key session.Key, creds *venue.Credentials) (*session.Session, error) {
	// Fast path
	if s, ok := r.Get(key); ok {
		return s, nil
	}

	s, created, err := r.create(key, creds)
	if err != nil {
		return nil, err
	}
	if created {
		s.Resume()
	}
	return s, nil
}

func (r *Registry) create(key session.Key, creds *venue.Credentials) (*session.Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring lock
	if s, ok := r.sessions[key]; ok {
		return s, false, nil
	}
	if r.closed {
		return nil, false, ErrClosed
	}
	if creds == nil {
		return nil, false, fmt.Errorf("%w: %s", ErrNoCredentials, key)
	}

	v, err := r.venues.Build(key.Venue, *creds)
	if err != nil {
		return nil, false, err
	}
	s := session.New(key, *creds, v, r.opts)
	r.sessions[key] = s
	r.metrics.SessionCreated()
	r.log.Info("session created",
		zap.String("tenant", key.String()),
		zap.Bool("restored_token", creds.AccessToken != ""))
	return s, true, nil
}

// List returns every session ordered by key.
func (r *Registry) List() []*session.Session {
	r.mu.RLock()
	out := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops every session's stream and refuses new sessions.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	r.log.Info("registry closed", zap.Int("sessions", len(sessions)))
}
