// Package credstore persists tenant venue credentials and access tokens.
package credstore

import (
	"context"
	"errors"
	"strings"

	"oms-gateway/internal/session"
	"oms-gateway/pkg/venue"
)

var ErrUnknownTenant = errors.New("credstore: unknown tenant")

// Tenant is one stored account.
type Tenant struct {
	Key         session.Key
	Credentials venue.Credentials
}

// Store is implemented by every backend. It satisfies session.TokenSink.
type Store interface {
	Load(ctx context.Context, key session.Key) (venue.Credentials, bool, error)
	List(ctx context.Context) ([]Tenant, error)
	Upsert(ctx context.Context, key session.Key, creds venue.Credentials) error
	SaveAccessToken(ctx context.Context, key session.Key, token string) error
	Close() error
}

var (
	_ Store = (*SQLite)(nil)
	_ Store = (*Redis)(nil)
)

func venueName(key session.Key) string { return strings.ToLower(key.Venue) }
