package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// NewID returns a random 128-bit hex identifier, optionally prefixed
// ("av_…" for profiles, "kd_…" for knowledge documents, "wz_…" for wizard
// sessions).
func NewID(prefix string) string {
	return join(prefix, randomHex(16))
}

// ShortID returns a random 32-bit hex identifier for request ids and logs.
func ShortID() string {
	return randomHex(4)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func join(prefix, id string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
