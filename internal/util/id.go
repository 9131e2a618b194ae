// Package util holds small helpers shared across the API.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier like "doc_9f2c...". The prefix names the
// entity kind (usr, hh, doc, cmt, att, jti, rft); an empty prefix yields bare
// hex, used to pad refresh token entropy.
func NewID(prefix string) string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	if prefix == "" {
		return hex.EncodeToString(buf)
	}
	return prefix + "_" + hex.EncodeToString(buf)
}
