// Package ingress receives signed webhook deliveries from the upstream
// engine, verifies and classifies them, and fans work out to the
// session registry, content store, and indexing queue without blocking
// the response path.
package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

const signaturePrefix = "sha256="

// Sign computes the signature header value for a body: an HMAC-SHA256
// over the exact raw bytes, hex-encoded and prefixed with "sha256=".
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature header against the raw body using
// a constant-time comparison. A missing or malformed header fails.
func VerifySignature(secret, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
