// Package id mints the random identifiers the service hands out:
// record ids for storage rows and opaque handles for authenticators.
// Both draw 128 bits from crypto/rand; they differ only in encoding.
package id

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a 26-character lowercase identifier: UUIDv4 bytes in
// unpadded base32, safe in URLs and cookies.
func NewID() (string, error) {
	raw, err := randomBytes()
	if err != nil {
		return "", err
	}
	// Stamp the RFC 4122 version and variant bits so the bytes decode
	// back to a valid v4 UUID.
	raw[6] = (raw[6] & 0x0f) | 0x40
	raw[8] = (raw[8] & 0x3f) | 0x80
	return strings.ToLower(encoding.EncodeToString(raw[:])), nil
}

// NewHandle returns a 32-character hex handle with all 128 random bits
// intact; used for WebAuthn user handles, which are never parsed.
func NewHandle() (string, error) {
	raw, err := randomBytes()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw[:]), nil
}

func randomBytes() ([16]byte, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return raw, fmt.Errorf("read random bytes: %w", err)
	}
	return raw, nil
}
