// Package token generates magic-link campaign tokens.
package token

import (
	"crypto/rand"
	"fmt"
)

// Length is the number of characters in a campaign token.
const Length = 12

const charset = "abcdefghijklmnopqrstuvwxyz0123456789"

// maxByte is the largest multiple of len(charset) that fits in a byte;
// random bytes at or above it are discarded to keep the draw uniform.
const maxByte = 256 - 256%len(charset)

// Generate returns a random lower-case alphanumeric token.
func Generate() (string, error) {
	b := make([]byte, 0, Length)
	buf := make([]byte, Length*2)
	for len(b) < Length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		for _, r := range buf {
			if int(r) >= maxByte {
				continue
			}
			b = append(b, charset[int(r)%len(charset)])
			if len(b) == Length {
				break
			}
		}
	}
	return string(b), nil
}

// Valid reports whether s has the shape of a generated token.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
