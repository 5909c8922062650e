package crypto

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
)

// DefaultKeyEnv is the variable holding key version 1; later versions use
// the _V2.._V10 suffixes.
const DefaultKeyEnv = "MASTER_ENCRYPTION_KEY"

const maxVersion = 10

var ErrNoKeys = errors.New("crypto: no encryption key configured")

// Keyring holds every configured key version and seals with the newest.
// It is immutable after loading.
type Keyring struct {
	ciphers map[int]*Cipher
	current int
}

// LoadKeyring reads base64 keys from DefaultKeyEnv and its versioned
// variants. It returns ErrNoKeys when none is set.
func LoadKeyring() (*Keyring, error) {
	return loadKeyring(DefaultKeyEnv, os.Getenv)
}

func loadKeyring(name string, getenv func(string) string) (*Keyring, error) {
	kr := &Keyring{ciphers: make(map[int]*Cipher)}
	for v := 1; v <= maxVersion; v++ {
		env := name
		if v > 1 {
			env = fmt.Sprintf("%s_V%d", name, v)
		}
		encoded := getenv(env)
		if encoded == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", env, err)
		}
		c, err := NewCipher(key, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env, err)
		}
		kr.ciphers[v] = c
		kr.current = v
	}
	if kr.current == 0 {
		return nil, ErrNoKeys
	}
	return kr, nil
}

// NewKeyring builds a keyring from raw keys indexed by version.
func NewKeyring(keys map[int][]byte) (*Keyring, error) {
	kr := &Keyring{ciphers: make(map[int]*Cipher, len(keys))}
	for v, key := range keys {
		c, err := NewCipher(key, v)
		if err != nil {
			return nil, fmt.Errorf("key v%d: %w", v, err)
		}
		kr.ciphers[v] = c
		kr.current = max(kr.current, v)
	}
	if kr.current == 0 {
		return nil, ErrNoKeys
	}
	return kr, nil
}

// CurrentVersion is the version new values are sealed with.
func (k *Keyring) CurrentVersion() int { return k.current }

// Seal encrypts with the current key.
func (k *Keyring) Seal(plaintext string) (string, error) {
	return k.ciphers[k.current].Seal(plaintext)
}

// Open decrypts with whichever key version sealed the value.
func (k *Keyring) Open(sealed string) (string, error) {
	v := VersionOf(sealed)
	if v == 0 {
		return "", ErrInvalidCiphertext
	}
	c, ok := k.ciphers[v]
	if !ok {
		return "", fmt.Errorf("crypto: key version %d not configured", v)
	}
	return c.Open(sealed)
}
