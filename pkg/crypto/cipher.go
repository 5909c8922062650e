// Package crypto seals stored venue secrets with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	KeySize   = 32
	nonceSize = 12
	prefix    = "ENC[v"
)

var (
	ErrInvalidKey        = errors.New("crypto: key must be 32 bytes")
	ErrInvalidCiphertext = errors.New("crypto: invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("crypto: decryption failed")
)

// Cipher seals values under one key version. Sealed values look like
// ENC[v<version>]:base64(nonce||ciphertext||tag).
type Cipher struct {
	aead    cipher.AEAD
	version int
}

// NewCipher builds a cipher for a 32-byte key.
func NewCipher(key []byte, version int) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead, version: version}, nil
}

func (c *Cipher) Version() int { return c.version }

// Seal encrypts plaintext with a fresh random nonce.
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("%s%d]:%s", prefix, c.version, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open reverses Seal.
func (c *Cipher) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrInvalidCiphertext
	}
	sep := strings.Index(sealed, "]:")
	if sep == -1 {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(sealed[sep+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsSealed reports whether s carries the sealed-value prefix.
func IsSealed(s string) bool { return strings.HasPrefix(s, prefix) }

// VersionOf extracts the key version from a sealed value, 0 if s is not sealed.
func VersionOf(s string) int {
	if !IsSealed(s) {
		return 0
	}
	var v int
	if _, err := fmt.Sscanf(s, prefix+"%d]:", &v); err != nil {
		return 0
	}
	return v
}
