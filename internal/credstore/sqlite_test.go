package credstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oms-gateway/internal/session"
	"oms-gateway/pkg/crypto"
	"oms-gateway/pkg/db"
	"oms-gateway/pkg/venue"
)

func testKeyring(t *testing.T) *crypto.Keyring {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	for i := range key {
		key[i] = byte(i * 3)
	}
	kr, err := crypto.NewKeyring(map[int][]byte{1: key})
	require.NoError(t, err)
	return kr
}

func newSQLite(t *testing.T, keys *crypto.Keyring) (*SQLite, *db.Database) {
	t.Helper()
	d, err := db.New(":memory:")
	require.NoError(t, err)
	s := NewSQLite(d, keys, nil)
	t.Cleanup(func() { _ = s.Close() })
	return s, d
}

var e1 = session.Key{Venue: "Zerodha", Entity: "E1"}

func TestSQLiteSealsSecrets(t *testing.T) {
	s, d := newSQLite(t, testKeyring(t))
	ctx := t.Context()

	require.NoError(t, s.Upsert(ctx, e1, venue.Credentials{APIKey: "k", APISecret: "secret", AccessToken: "tok"}))

	row, err := d.GetTenant(ctx, "zerodha", "E1")
	require.NoError(t, err)
	assert.True(t, crypto.IsSealed(row.APISecret))
	assert.True(t, crypto.IsSealed(row.AccessToken))
	assert.Equal(t, "k", row.APIKey)
	assert.Equal(t, 1, row.KeyVersion)

	creds, ok, err := s.Load(ctx, e1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "secret", creds.APISecret)
	assert.Equal(t, "tok", creds.AccessToken)
}

func TestSQLitePlaintextWithoutKeyring(t *testing.T) {
	s, d := newSQLite(t, nil)
	ctx := t.Context()
	require.NoError(t, s.Upsert(ctx, e1, venue.Credentials{APIKey: "k", APISecret: "secret"}))

	row, err := d.GetTenant(ctx, "zerodha", "E1")
	require.NoError(t, err)
	assert.Equal(t, "secret", row.APISecret)
	assert.Equal(t, 0, row.KeyVersion)
}

func TestSQLiteLoadMissing(t *testing.T) {
	s, _ := newSQLite(t, nil)
	_, ok, err := s.Load(t.Context(), e1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteSaveAccessToken(t *testing.T) {
	s, _ := newSQLite(t, testKeyring(t))
	ctx := t.Context()
	require.NoError(t, s.Upsert(ctx, e1, venue.Credentials{APIKey: "k"}))

	require.NoError(t, s.SaveAccessToken(ctx, e1, "fresh"))
	creds, _, err := s.Load(ctx, e1)
	require.NoError(t, err)
	assert.Equal(t, "fresh", creds.AccessToken)

	require.NoError(t, s.SaveAccessToken(ctx, e1, ""))
	creds, _, err = s.Load(ctx, e1)
	require.NoError(t, err)
	assert.Empty(t, creds.AccessToken)

	err = s.SaveAccessToken(ctx, session.Key{Venue: "zerodha", Entity: "ghost"}, "x")
	assert.ErrorIs(t, err, ErrUnknownTenant)
}

func TestSQLiteListSkipsUnreadable(t *testing.T) {
	s, d := newSQLite(t, nil)
	ctx := t.Context()
	require.NoError(t, s.Upsert(ctx, e1, venue.Credentials{APIKey: "k"}))

	sealed, err := testKeyring(t).Seal("secret")
	require.NoError(t, err)
	require.NoError(t, d.UpsertTenant(ctx, db.Tenant{Venue: "zerodha", EntityID: "E2", APIKey: "k2", APISecret: sealed, KeyVersion: 1}))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, session.Key{Venue: "zerodha", Entity: "E1"}, list[0].Key)
}
