// Package phi encrypts free-text patient data before it is written to the
// database.
package phi

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// prefix marks a sealed value. Values without it are returned unchanged by
// Decrypt so columns written before encryption was enabled stay readable.
const prefix = "enc:v1:"

var ErrMalformed = errors.New("phi: malformed ciphertext")

type FieldEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(value string) (string, error)
}

// Cipher seals fields with AES-256-GCM. The nonce is prepended to the
// ciphertext and the result is base64 encoded behind prefix.
type Cipher struct {
	aead cipher.AEAD
}

func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("phi: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("phi: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phi: create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// ParseKey decodes a 64-character hex key.
func ParseKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("phi: key is not valid hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("phi: key must be %d bytes (%d hex chars), got %d bytes", KeySize, KeySize*2, len(key))
	}
	return key, nil
}

// NewCipherFromHex returns nil and no error for an empty key, which disables
// encryption.
func NewCipherFromHex(s string) (*Cipher, error) {
	if s == "" {
		return nil, nil
	}
	key, err := ParseKey(s)
	if err != nil {
		return nil, err
	}
	return NewCipher(key)
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("phi: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(value[len(prefix):])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := c.aead.NonceSize()
	if len(data) < n {
		return "", ErrMalformed
	}
	plaintext, err := c.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", fmt.Errorf("phi: decrypt: %w", err)
	}
	return string(plaintext), nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}
