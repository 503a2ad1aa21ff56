package event

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrSigningSecretMissing is returned when a webhook has no signing secret
var ErrSigningSecretMissing = errors.New("webhook signing secret is missing")

// Signer computes the signature carried in the X-CMS-Signature header.
// The signature is computed over the exact request body bytes, so the
// receiver must verify against the raw body before any JSON parsing.
type Signer interface {
	Sign(secret, body []byte) (string, error)
}

// HMACSigner signs payloads with HMAC-SHA256, hex encoded
type HMACSigner struct{}

// NewHMACSigner creates a new HMACSigner
func NewHMACSigner() *HMACSigner {
	return &HMACSigner{}
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret
func (s *HMACSigner) Sign(secret, body []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrSigningSecretMissing
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Ensure HMACSigner implements Signer
var _ Signer = (*HMACSigner)(nil)
