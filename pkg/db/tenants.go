package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrTenantKeyRequired = errors.New("venue and entity_id are required")
	ErrNotFound          = errors.New("record not found")
)

// Tenant is one stored venue account. Secret columns hold whatever the
// caller wrote: plaintext or sealed values, see KeyVersion.
type Tenant struct {
	Venue       string
	EntityID    string
	APIKey      string
	APISecret   string
	RedirectURL string
	UserID      string
	AccessToken string
	KeyVersion  int // 0 means plaintext
	UpdatedAt   time.Time
}

const tenantColumns = `venue, entity_id, api_key, api_secret, redirect_url, user_id, access_token, key_version, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTenant(s scanner) (Tenant, error) {
	var t Tenant
	err := s.Scan(&t.Venue, &t.EntityID, &t.APIKey, &t.APISecret, &t.RedirectURL,
		&t.UserID, &t.AccessToken, &t.KeyVersion, &t.UpdatedAt)
	return t, err
}

// UpsertTenant inserts or replaces a tenant's credentials.
func (d *Database) UpsertTenant(ctx context.Context, t Tenant) error {
	if t.Venue == "" || t.EntityID == "" {
		return ErrTenantKeyRequired
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO tenants (venue, entity_id, api_key, api_secret, redirect_url, user_id, access_token, key_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(venue, entity_id) DO UPDATE SET
			api_key = excluded.api_key,
			api_secret = excluded.api_secret,
			redirect_url = excluded.redirect_url,
			user_id = excluded.user_id,
			access_token = excluded.access_token,
			key_version = excluded.key_version,
			updated_at = CURRENT_TIMESTAMP
	`, t.Venue, t.EntityID, t.APIKey, t.APISecret, t.RedirectURL, t.UserID, t.AccessToken, t.KeyVersion)
	if err != nil {
		return fmt.Errorf("upsert tenant %s:%s: %w", t.Venue, t.EntityID, err)
	}
	return nil
}

// GetTenant returns one tenant or ErrNotFound.
func (d *Database) GetTenant(ctx context.Context, venue, entityID string) (*Tenant, error) {
	if venue == "" || entityID == "" {
		return nil, ErrTenantKeyRequired
	}
	row := d.DB.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE venue = ? AND entity_id = ?`, venue, entityID)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	return &t, nil
}

// ListTenants returns every tenant ordered by key.
func (d *Database) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY venue, entity_id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetAccessToken replaces the stored token. An empty token clears it.
func (d *Database) SetAccessToken(ctx context.Context, venue, entityID, token string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE tenants SET access_token = ?, updated_at = CURRENT_TIMESTAMP
		WHERE venue = ? AND entity_id = ?
	`, token, venue, entityID)
	if err != nil {
		return fmt.Errorf("update access token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
