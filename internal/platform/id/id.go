// Package id generates compact, URL-safe unique identifiers.
//
// Identifiers are UUIDv4 bytes encoded as 26 lowercase base32 characters
// without padding, so they sort and embed cleanly in URLs, logs, and
// database keys.
package id

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a new 26-character lowercase identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}
