package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hivemesh/hivemind/pkg/types"
)

// KeySize is the AES-256 key length in bytes
const KeySize = 32

// KeyFileName is the key file created under the hive's config directory
// when encryption is enabled
const KeyFileName = "memory.key"

// Cipher seals and opens memory values with AES-256-GCM. The nonce is
// prepended to the ciphertext, so sealed values are self-contained.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a cipher from a raw 32-byte key
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d: %w",
			KeySize, len(key), types.ErrInvalidRequest)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// NewCipherFromPassphrase derives the key from a passphrase with SHA-256
func NewCipherFromPassphrase(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase required: %w", types.ErrInvalidRequest)
	}
	key := sha256.Sum256([]byte(passphrase))
	return NewCipher(key[:])
}

// LoadOrCreateKey reads the key file under dir, generating a fresh random
// key on first use. The file is owner-readable only.
func LoadOrCreateKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, KeyFileName)
	if key, err := os.ReadFile(path); err == nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key file %s is %d bytes, want %d: %w",
				path, len(key), KeySize, types.ErrSchemaIncompatible)
		}
		return key, nil
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext, prepending the random nonce
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a value produced by Seal. Tampered or foreign ciphertext
// fails authentication.
func (c *Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < c.aead.NonceSize() {
		return nil, fmt.Errorf("sealed value shorter than nonce: %w", types.ErrInvalidRequest)
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plain, nil
}
