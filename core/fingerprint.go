package core

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// Fingerprint computes the deduplication key for an email: a BLAKE2b-128 digest over the
// sender, the receive time and the normalized body.
func Fingerprint(sender string, receivedAt time.Time, body string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(sender))))
	h.Write([]byte{0})
	h.Write([]byte(receivedAt.UTC().Format(time.RFC3339)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeBody(body)))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeBody lowercases text and collapses whitespace runs to single spaces.
func NormalizeBody(body string) string {
	return strings.Join(strings.Fields(strings.ToLower(body)), " ")
}
