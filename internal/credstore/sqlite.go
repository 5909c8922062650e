package credstore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"oms-gateway/internal/session"
	"oms-gateway/pkg/crypto"
	"oms-gateway/pkg/db"
	"oms-gateway/pkg/venue"
)

// SQLite keeps tenants in the local database. API secrets and access tokens
// are sealed when a keyring is configured.
type SQLite struct {
	db   *db.Database
	keys *crypto.Keyring
	log  *zap.Logger
}

// NewSQLite wraps an open database. keys may be nil.
func NewSQLite(d *db.Database, keys *crypto.Keyring, log *zap.Logger) *SQLite {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("credstore")
	if keys == nil {
		log.Warn("no encryption key configured; tenant secrets are stored in plaintext")
	}
	return &SQLite{db: d, keys: keys, log: log}
}

func (s *SQLite) seal(v string) (string, error) {
	if s.keys == nil || v == "" {
		return v, nil
	}
	return s.keys.Seal(v)
}

func (s *SQLite) open(v string) (string, error) {
	if !crypto.IsSealed(v) {
		return v, nil
	}
	if s.keys == nil {
		return "", fmt.Errorf("sealed value (key v%d) but no keyring configured", crypto.VersionOf(v))
	}
	return s.keys.Open(v)
}

func (s *SQLite) decode(t db.Tenant) (venue.Credentials, error) {
	secret, err := s.open(t.APISecret)
	if err != nil {
		return venue.Credentials{}, fmt.Errorf("open api secret: %w", err)
	}
	token, err := s.open(t.AccessToken)
	if err != nil {
		return venue.Credentials{}, fmt.Errorf("open access token: %w", err)
	}
	return venue.Credentials{
		APIKey:      t.APIKey,
		APISecret:   secret,
		RedirectURL: t.RedirectURL,
		UserID:      t.UserID,
		AccessToken: token,
	}, nil
}

func (s *SQLite) Load(ctx context.Context, key session.Key) (venue.Credentials, bool, error) {
	t, err := s.db.GetTenant(ctx, venueName(key), key.Entity)
	if errors.Is(err, db.ErrNotFound) {
		return venue.Credentials{}, false, nil
	}
	if err != nil {
		return venue.Credentials{}, false, err
	}
	creds, err := s.decode(*t)
	if err != nil {
		return venue.Credentials{}, false, fmt.Errorf("tenant %s: %w", key, err)
	}
	return creds, true, nil
}

// List skips rows whose secrets cannot be opened, logging each.
func (s *SQLite) List(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Tenant, 0, len(rows))
	for _, t := range rows {
		key := session.Key{Venue: t.Venue, Entity: t.EntityID}
		creds, err := s.decode(t)
		if err != nil {
			s.log.Error("skipping unreadable tenant", zap.String("tenant", key.String()), zap.Error(err))
			continue
		}
		out = append(out, Tenant{Key: key, Credentials: creds})
	}
	return out, nil
}

func (s *SQLite) Upsert(ctx context.Context, key session.Key, creds venue.Credentials) error {
	secret, err := s.seal(creds.APISecret)
	if err != nil {
		return fmt.Errorf("seal api secret: %w", err)
	}
	token, err := s.seal(creds.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	version := 0
	if s.keys != nil {
		version = s.keys.CurrentVersion()
	}
	return s.db.UpsertTenant(ctx, db.Tenant{
		Venue:       venueName(key),
		EntityID:    key.Entity,
		APIKey:      creds.APIKey,
		APISecret:   secret,
		RedirectURL: creds.RedirectURL,
		UserID:      creds.UserID,
		AccessToken: token,
		KeyVersion:  version,
	})
}

func (s *SQLite) SaveAccessToken(ctx context.Context, key session.Key, token string) error {
	sealed, err := s.seal(token)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	err = s.db.SetAccessToken(ctx, venueName(key), key.Entity, sealed)
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownTenant, key)
	}
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }
