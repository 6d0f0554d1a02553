package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	HeaderSignature      = "X-Settlement-Signature"
	HeaderEventID        = "X-Settlement-Event-Id"
	HeaderEventType      = "X-Settlement-Event-Type"
	HeaderAttempt        = "X-Settlement-Attempt"
	HeaderIdempotencyKey = "Idempotency-Key"

	signaturePrefix = "sha256="
)

// Sign returns the signature header value for body: the hex HMAC-SHA256
// under secret, prefixed with the algorithm.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature header in constant time.
func Verify(secret, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	return hmac.Equal([]byte(header), []byte(Sign(secret, body)))
}
