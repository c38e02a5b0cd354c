package kvstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// KeySize is the length of the AES-256 key
const KeySize = 32

// ErrUnseal is returned when a stored value cannot be decrypted
var ErrUnseal = errors.New("failed to unseal value")

// Sealed encrypts values with AES-GCM before handing them to the wrapped store
type Sealed struct {
	inner Store
	aead  cipher.AEAD
}

// NewSealed wraps inner with AES-GCM using a 32-byte key
func NewSealed(inner Store, key []byte) (*Sealed, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Sealed{inner: inner, aead: aead}, nil
}

// Get reads and decrypts key
func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	sealed, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrUnseal
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	return plaintext, nil
}

// Set encrypts value with a fresh nonce and stores it. The key name is
// bound as additional data so values cannot be swapped between keys.
func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, value, []byte(key))
	return s.inner.Set(ctx, key, sealed)
}

// Remove deletes key from the wrapped store
func (s *Sealed) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

// Close closes the wrapped store
func (s *Sealed) Close(ctx context.Context) error {
	return s.inner.Close(ctx)
}

// LoadOrCreateKey reads a hex encoded key from path, or generates one and
// writes it with owner-only permissions.
func LoadOrCreateKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode key file: %w", err)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(key), KeySize)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	return key, nil
}
