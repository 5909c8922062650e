package credstore

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"oms-gateway/internal/session"
	"oms-gateway/pkg/venue"
)

type seedFile struct {
	Tenants []seedTenant `yaml:"tenants"`
}

type seedTenant struct {
	Venue             string `yaml:"venue"`
	EntityID          string `yaml:"entity_id"`
	venue.Credentials `yaml:",inline"`
}

// Seed upserts every tenant listed in a YAML file:
//
//	tenants:
//	  - venue: zerodha
//	    entity_id: E1
//	    api_key: ...
//	    api_secret: ...
//
// A stored access token survives reseeding when the file has none.
func Seed(ctx context.Context, s Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read tenants file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return 0, fmt.Errorf("parse tenants file: %w", err)
	}

	n := 0
	for i, t := range f.Tenants {
		if t.Venue == "" || t.EntityID == "" || t.APIKey == "" {
			return n, fmt.Errorf("tenants[%d]: venue, entity_id and api_key are required", i)
		}
		key := session.Key{Venue: t.Venue, Entity: t.EntityID}
		creds := t.Credentials
		if creds.AccessToken == "" {
			if prev, ok, err := s.Load(ctx, key); err == nil && ok {
				creds.AccessToken = prev.AccessToken
			}
		}
		if err := s.Upsert(ctx, key, creds); err != nil {
			return n, fmt.Errorf("seed %s: %w", key, err)
		}
		n++
	}
	return n, nil
}
