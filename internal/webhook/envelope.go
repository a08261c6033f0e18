// Package webhook delivers signed outcome notifications to configured
// endpoints with at-least-once semantics and a durable attempt audit trail.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// SignatureHeader carries the payload signature on every delivery request.
const SignatureHeader = "X-Webhook-Signature"

// Envelope is the wire format of one notification. Signature is the
// HMAC-SHA256 of the raw Data bytes, hex encoded, so receivers verify
// before parsing.
type Envelope struct {
	EventID   string          `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	Signature string          `json:"signature"`
	Data      json.RawMessage `json:"data"`
}

// Sign computes the hex HMAC-SHA256 of data under secret.
func Sign(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches data under secret, in constant
// time.
func Verify(secret string, data []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hmac.Equal(mac.Sum(nil), expected)
}
