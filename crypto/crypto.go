// Package crypto seals secrets stored at rest (the chat bot's OAuth tokens)
// with AES-256-GCM. Sealed values are base64 text prefixed by a key id so a
// rotated key can be told apart from the one that sealed a row.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrKeyMismatch is returned when a value was sealed with another key.
	ErrKeyMismatch = errors.New("sealed with a different key")
	// ErrCorrupt is returned when a sealed value fails to decode or authenticate.
	ErrCorrupt = errors.New("sealed value is corrupt")
)

// Sealer encrypts and decrypts strings.
type Sealer struct {
	aead  cipher.AEAD
	keyID string
}

// NewSealer builds a sealer from a base64-encoded 32-byte key, e.g. from
// `openssl rand -base64 32`.
func NewSealer(base64Key string) (*Sealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &Sealer{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// FromEnv returns a sealer for ENCRYPTION_KEY, or nil when it is unset.
func FromEnv() (*Sealer, error) {
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		return nil, nil
	}
	return NewSealer(key)
}

// KeyID identifies the key without revealing it.
func (s *Sealer) KeyID() string { return s.keyID }

// Seal encrypts plaintext as "<key id>:<base64(nonce || ciphertext || tag)>".
// The empty string seals to itself.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), []byte(s.keyID))
	return s.keyID + ":" + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	keyID, body, ok := strings.Cut(sealed, ":")
	if !ok {
		return "", ErrCorrupt
	}
	if keyID != s.keyID {
		return "", fmt.Errorf("%w: %s", ErrKeyMismatch, keyID)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", ErrCorrupt
	}
	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", ErrCorrupt
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], []byte(s.keyID))
	if err != nil {
		return "", ErrCorrupt
	}
	return string(plain), nil
}
