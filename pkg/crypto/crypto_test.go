package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(seed byte) []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = seed + byte(i)
	}
	return key
}

func TestSealOpen(t *testing.T) {
	c, err := NewCipher(testKey(0), 1)
	require.NoError(t, err)

	for _, plain := range []string{"", "abc123XYZ789", "a long api secret value with spaces", "日本語"} {
		sealed, err := c.Seal(plain)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(sealed, "ENC[v1]:"))
		opened, err := c.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, opened)
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	c, err := NewCipher(testKey(0), 1)
	require.NoError(t, err)
	a, _ := c.Seal("same")
	b, _ := c.Seal("same")
	assert.NotEqual(t, a, b)
}

func TestInvalidInputs(t *testing.T) {
	_, err := NewCipher([]byte("short"), 1)
	assert.ErrorIs(t, err, ErrInvalidKey)

	c, err := NewCipher(testKey(0), 1)
	require.NoError(t, err)
	_, err = c.Open("plain-text")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
	_, err = c.Open("ENC[v1]:" + base64.StdEncoding.EncodeToString([]byte("tiny")))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	other, err := NewCipher(testKey(7), 1)
	require.NoError(t, err)
	sealed, _ := other.Seal("secret")
	_, err = c.Open(sealed)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestVersionOf(t *testing.T) {
	assert.Equal(t, 3, VersionOf("ENC[v3]:abcd"))
	assert.Equal(t, 0, VersionOf("plain"))
	assert.Equal(t, 0, VersionOf("ENC[vx]:abcd"))
}

func TestKeyringRotation(t *testing.T) {
	env := map[string]string{}
	env[DefaultKeyEnv] = base64.StdEncoding.EncodeToString(testKey(1))
	env[DefaultKeyEnv+"_V2"] = base64.StdEncoding.EncodeToString(testKey(2))
	old, err := NewKeyring(map[int][]byte{1: testKey(1)})
	require.NoError(t, err)
	sealedV1, err := old.Seal("secret")
	require.NoError(t, err)

	kr, err := loadKeyring(DefaultKeyEnv, func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, 2, kr.CurrentVersion())

	opened, err := kr.Open(sealedV1)
	require.NoError(t, err)
	assert.Equal(t, "secret", opened)

	sealedV2, err := kr.Seal("secret")
	require.NoError(t, err)
	assert.Equal(t, 2, VersionOf(sealedV2))

	_, err = old.Open(sealedV2)
	assert.Error(t, err)
}

func TestKeyringWithoutKeys(t *testing.T) {
	_, err := loadKeyring(DefaultKeyEnv, func(string) string { return "" })
	assert.ErrorIs(t, err, ErrNoKeys)

	_, err = loadKeyring(DefaultKeyEnv, func(string) string { return "not base64!" })
	assert.Error(t, err)
}
