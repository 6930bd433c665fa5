package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// Verify checks a GitHub X-Hub-Signature-256 header against payload using
// HMAC SHA-256 and a constant-time comparison.
func Verify(header string, payload []byte, secret string) error {
	if secret == "" {
		return ErrNoSecret
	}
	if header == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrSignatureFormat
	}
	if !hmac.Equal([]byte(strings.TrimPrefix(header, signaturePrefix)), []byte(Sign(payload, secret))) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign returns the hex HMAC of payload, without the "sha256=" prefix.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
