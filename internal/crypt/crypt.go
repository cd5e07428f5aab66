// Package crypt provides the authenticated symmetric cipher used to keep
// secrets at rest, keyed by subkeys derived from a single master key.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/rsclarke/tallyview/internal/errdefs"
)

const (
	// KeySize is the required master key length (AES-256).
	KeySize = 32
	// NonceSize is the GCM standard nonce length.
	NonceSize = 12
)

// Key derivation purposes.
const (
	PurposeCredentialSecret       = "credential-secret"
	PurposeIntegrationCredentials = "integration-credentials"
	PurposeLinkSession            = "magic-link-session"
)

// ParseMasterKey decodes a master key given as 64 hex characters or as
// base64 (padded or raw) of exactly KeySize bytes.
func ParseMasterKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: master key is not set", errdefs.ErrConfiguration)
	}

	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err := enc.DecodeString(s); err == nil && len(key) == KeySize {
			return key, nil
		}
	}
	return nil, fmt.Errorf("%w: master key must be %d bytes encoded as hex or base64", errdefs.ErrConfiguration, KeySize)
}

// DeriveKey derives a KeySize subkey bound to purpose with HKDF-SHA256.
func DeriveKey(masterKey []byte, purpose string) ([]byte, error) {
	if len(masterKey) != KeySize {
		return nil, fmt.Errorf("%w: master key must be %d bytes, got %d", errdefs.ErrConfiguration, KeySize, len(masterKey))
	}
	sub := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte("tallyview/"+purpose)), sub); err != nil {
		return nil, fmt.Errorf("derive %s key: %w", purpose, err)
	}
	return sub, nil
}

// Cipher is AES-256-GCM under a purpose-bound subkey.
type Cipher struct {
	purpose string
	aead    cipher.AEAD
}

// New creates a Cipher for purpose from the master key.
func New(masterKey []byte, purpose string) (*Cipher, error) {
	key, err := DeriveKey(masterKey, purpose)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{purpose: purpose, aead: gcm}, nil
}

// Purpose returns the derivation purpose of the cipher.
func (c *Cipher) Purpose() string {
	if c == nil {
		return ""
	}
	return c.purpose
}

// Encrypt seals plaintext with a fresh random nonce. The result is
// nonce || ciphertext || tag.
func (c *Cipher) Encrypt(plaintext []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, fmt.Errorf("%w: cipher has no key", errdefs.ErrConfiguration)
	}
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt. Tampering, truncation or a
// different key yields ErrIntegrity.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if c == nil || c.aead == nil {
		return nil, fmt.Errorf("%w: cipher has no key", errdefs.ErrConfiguration)
	}
	if len(ciphertext) < NonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short (%d bytes)", errdefs.ErrIntegrity, len(ciphertext))
	}
	nonce, sealed := ciphertext[:NonceSize], ciphertext[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errdefs.ErrIntegrity, err)
	}
	return plaintext, nil
}
