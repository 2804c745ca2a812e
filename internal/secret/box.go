// Package secret encrypts short secrets (OAuth tokens) before they are
// written to storage.
//
// Values are sealed with XChaCha20-Poly1305. The 32-byte key is derived
// from the configured passphrase with HKDF-SHA256, so any passphrase of
// sufficient length can be used. Sealed values are text:
//
//	v1:<base64url(nonce || ciphertext)>
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const prefix = "v1:"

var ErrMalformed = errors.New("secret: malformed sealed value")

// Box seals and opens strings. It is safe for concurrent use.
type Box struct {
	key []byte
}

// New derives the encryption key from passphrase.
func New(passphrase string) (*Box, error) {
	if len(passphrase) < 32 {
		return nil, errors.New("secret: passphrase must be at least 32 characters")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("mercado-insights/token-box"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secret: deriving key: %w", err)
	}
	return &Box{key: key}, nil
}

// Seal encrypts plaintext. The empty string seals to the empty string.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("secret: creating cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secret: generating nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !strings.HasPrefix(sealed, prefix) {
		return "", ErrMalformed
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil {
		return "", ErrMalformed
	}

	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", fmt.Errorf("secret: creating cipher: %w", err)
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secret: opening value: %w", err)
	}
	return string(plaintext), nil
}
