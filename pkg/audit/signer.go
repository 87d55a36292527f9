package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces and checks a detachable signature over a receipt entry's
// content hash, so a receipt can be handed to a party outside the audit
// store and still be checked for tampering.
type Signer interface {
	Sign(contentHash string) (string, error)
	Verify(contentHash, signature string) bool
}

// NoopSigner never signs; Verify accepts only the empty signature. It is the
// default for deployments that rely on the hash chain alone and don't need
// a detachable signature.
type NoopSigner struct{}

func (NoopSigner) Sign(string) (string, error) { return "", nil }

func (NoopSigner) Verify(_ string, signature string) bool {
	return signature == ""
}

// HMACSigner signs with a shared-secret HMAC-SHA256, hex-encoded.
type HMACSigner struct {
	key []byte
}

func NewHMACSigner(key []byte) *HMACSigner {
	return &HMACSigner{key: key}
}

func (s *HMACSigner) Sign(contentHash string) (string, error) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(contentHash))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s *HMACSigner) Verify(contentHash, signature string) bool {
	want, err := s.Sign(contentHash)
	if err != nil {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	wantBytes, err := hex.DecodeString(want)
	if err != nil {
		return false
	}
	return hmac.Equal(sig, wantBytes)
}
