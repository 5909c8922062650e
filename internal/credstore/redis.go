package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"oms-gateway/internal/session"
	"oms-gateway/pkg/venue"
)

const entityPrefix = "ENTITY:"

// Redis reads tenants from ENTITY:<entity_id> documents shared with the OMS.
// Two layouts are understood:
//
//	{"broker": "Zerodha", "creds": {...}}
//	{"brokers": {"Zerodha": {...}, ...}}
//
// Unknown fields inside a document are preserved on write.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, log: log.Named("credstore")}
}

type document map[string]any

func parseDocument(raw []byte) (document, error) {
	doc := document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode entity document: %w", err)
	}
	return doc, nil
}

// credsFor returns the live credential object for name, matching case-insensitively.
func (d document) credsFor(name string) (map[string]any, bool) {
	if b, ok := d["broker"].(string); ok && strings.EqualFold(b, name) {
		c, ok := d["creds"].(map[string]any)
		return c, ok
	}
	if brokers, ok := d["brokers"].(map[string]any); ok {
		for n, v := range brokers {
			if strings.EqualFold(n, name) {
				c, ok := v.(map[string]any)
				return c, ok
			}
		}
	}
	return nil, false
}

// venues lists every (venue, creds) pair the document holds.
func (d document) venues() map[string]map[string]any {
	out := make(map[string]map[string]any)
	if b, ok := d["broker"].(string); ok {
		if c, ok := d["creds"].(map[string]any); ok {
			out[b] = c
		}
	}
	if brokers, ok := d["brokers"].(map[string]any); ok {
		for n, v := range brokers {
			if c, ok := v.(map[string]any); ok {
				out[n] = c
			}
		}
	}
	return out
}

// ensureCreds returns the credential object for name, creating it in the
// single-broker layout for a new document or under "brokers" otherwise.
func (d document) ensureCreds(name string) map[string]any {
	if c, ok := d.credsFor(name); ok {
		return c
	}
	c := map[string]any{}
	if len(d) == 0 {
		d["broker"] = name
		d["creds"] = c
		return c
	}
	brokers, _ := d["brokers"].(map[string]any)
	if brokers == nil {
		brokers = map[string]any{}
		if b, ok := d["broker"].(string); ok {
			brokers[b] = d["creds"]
			delete(d, "broker")
			delete(d, "creds")
		}
		d["brokers"] = brokers
	}
	brokers[name] = c
	return c
}

func toCredentials(m map[string]any) (venue.Credentials, error) {
	var c venue.Credentials
	raw, err := json.Marshal(m)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(raw, &c)
	return c, err
}

func applyCredentials(m map[string]any, c venue.Credentials) {
	m["api_key"] = c.APIKey
	m["api_secret"] = c.APISecret
	m["redirect_url"] = c.RedirectURL
	m["user_id"] = c.UserID
	m["access_token"] = c.AccessToken
	m["active"] = c.AccessToken != ""
}

func (r *Redis) get(ctx context.Context, entity string) (document, error) {
	raw, err := r.client.Get(ctx, entityPrefix+entity).Bytes()
	if errors.Is(err, redis.Nil) {
		return document{}, nil
	}
	if err != nil {
		return nil, err
	}
	return parseDocument(raw)
}

func (r *Redis) Load(ctx context.Context, key session.Key) (venue.Credentials, bool, error) {
	doc, err := r.get(ctx, key.Entity)
	if err != nil {
		return venue.Credentials{}, false, fmt.Errorf("tenant %s: %w", key, err)
	}
	m, ok := doc.credsFor(key.Venue)
	if !ok {
		return venue.Credentials{}, false, nil
	}
	creds, err := toCredentials(m)
	if err != nil {
		return venue.Credentials{}, false, fmt.Errorf("tenant %s: %w", key, err)
	}
	return creds, true, nil
}

func (r *Redis) List(ctx context.Context) ([]Tenant, error) {
	var out []Tenant
	iter := r.client.Scan(ctx, 0, entityPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		entity := strings.TrimPrefix(iter.Val(), entityPrefix)
		doc, err := r.get(ctx, entity)
		if err != nil {
			r.log.Error("skipping unreadable entity", zap.String("entity", entity), zap.Error(err))
			continue
		}
		for name, m := range doc.venues() {
			creds, err := toCredentials(m)
			if err != nil {
				r.log.Error("skipping unreadable credentials", zap.String("entity", entity), zap.String("venue", name), zap.Error(err))
				continue
			}
			out = append(out, Tenant{Key: session.Key{Venue: strings.ToLower(name), Entity: entity}, Credentials: creds})
		}
	}
	return out, iter.Err()
}

// update runs fn on the tenant document inside an optimistic transaction.
func (r *Redis) update(ctx context.Context, entity string, fn func(document) error) error {
	redisKey := entityPrefix + entity
	return r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, redisKey).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		doc, err := parseDocument(raw)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, redisKey, encoded, 0)
			return nil
		})
		return err
	}, redisKey)
}

func (r *Redis) Upsert(ctx context.Context, key session.Key, creds venue.Credentials) error {
	return r.update(ctx, key.Entity, func(doc document) error {
		applyCredentials(doc.ensureCreds(key.Venue), creds)
		return nil
	})
}

func (r *Redis) SaveAccessToken(ctx context.Context, key session.Key, token string) error {
	return r.update(ctx, key.Entity, func(doc document) error {
		m, ok := doc.credsFor(key.Venue)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTenant, key)
		}
		m["access_token"] = token
		m["active"] = token != ""
		return nil
	})
}

// Close is a no-op; the client is shared with the bus and closed by its owner.
func (r *Redis) Close() error { return nil }
