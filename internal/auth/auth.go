// Package auth generates and hashes tenant API key secrets.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"math/big"
	"strings"
)

const (
	// SecretPrefix marks every raw secret issued by tallyview.
	SecretPrefix = "tlv_"
	secretBytes  = 32
	hintLength   = 8

	// base62 of 32 bytes is 43 characters, 44 with a preserved leading zero.
	minBodyLength = 40
	maxBodyLength = 44
)

var ErrInvalidSecretFormat = errors.New("invalid API key format")

// GenerateSecret returns a new raw secret: SecretPrefix followed by the
// base62 encoding of 256 random bits.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return SecretPrefix + encodeBase62(raw), nil
}

// HashSecret returns the SHA-256 digest of the raw secret.
func HashSecret(secret string) []byte {
	h := sha256.Sum256([]byte(secret))
	return h[:]
}

// CompareHash reports whether two digests are equal in constant time.
func CompareHash(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// PrefixHint returns the non-secret leading fragment shown in listings.
func PrefixHint(secret string) string {
	if len(secret) <= hintLength {
		return secret
	}
	return secret[:hintLength]
}

// ParseSecret checks that secret looks like an issued key.
func ParseSecret(secret string) error {
	// Format: tlv_<base62>
	if !strings.HasPrefix(secret, SecretPrefix) {
		return ErrInvalidSecretFormat
	}
	body := strings.TrimPrefix(secret, SecretPrefix)
	if len(body) < minBodyLength || len(body) > maxBodyLength {
		return ErrInvalidSecretFormat
	}
	for _, c := range body {
		if !isBase62(c) {
			return ErrInvalidSecretFormat
		}
	}
	return nil
}

// base62Alphabet includes A-Za-z0-9 (no special characters)
const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func encodeBase62(data []byte) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(62)
	zero := big.NewInt(0)
	var result []byte

	for num.Cmp(zero) > 0 {
		mod := new(big.Int)
		num.DivMod(num, base, mod)
		result = append(result, base62Alphabet[mod.Int64()])
	}

	// Preserve leading zeros
	for _, b := range data {
		if b != 0 {
			break
		}
		result = append(result, '0')
	}

	if len(result) == 0 {
		return "0"
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return string(result)
}

func isBase62(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
