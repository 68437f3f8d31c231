// Package signature provides HMAC-SHA256 webhook signing and verification.
//
// A signature is "sha256=" followed by the lowercase hex HMAC of the exact
// request body bytes, keyed by the webhook secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Scheme is the prefix carried by every signature.
const Scheme = "sha256="

// Header is the request header carrying the signature.
const Header = "X-Webhook-Signature"

// Signer computes HMAC-SHA256 signatures for webhook payloads.
type Signer struct{}

// NewSigner returns a new Signer.
func NewSigner() *Signer {
	return &Signer{}
}

// Sign returns the signature for payload under secret.
func (s *Signer) Sign(payload []byte, secret string) string {
	return Sign(payload, secret)
}

// Verify reports whether sig is the signature of payload under secret.
func (s *Signer) Verify(payload []byte, secret, sig string) bool {
	return Verify(payload, secret, sig)
}

// Sign returns "sha256=<hex>" for payload keyed by secret.
func Sign(payload []byte, secret string) string {
	return Scheme + hex.EncodeToString(digest(payload, secret))
}

// Verify compares sig against the expected signature in constant time.
// Malformed signatures never match.
func Verify(payload []byte, secret, sig string) bool {
	encoded, ok := strings.CutPrefix(sig, Scheme)
	if !ok {
		return false
	}
	got, err := hex.DecodeString(encoded)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	return hmac.Equal(got, digest(payload, secret))
}

func digest(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
