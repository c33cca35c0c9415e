package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Signer mints and verifies the HMAC-SHA256 signatures carried by
// download URLs. Both storage backends and the download endpoint share
// one signer, so URLs stay valid across whichever side serves them.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the signature for key valid until the expires unix time.
func (s *Signer) Sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig matches key and the URL has not expired.
func (s *Signer) Verify(key string, expires int64, sig string) bool {
	if time.Now().Unix() > expires {
		return false
	}
	want := s.Sign(key, expires)
	return hmac.Equal([]byte(want), []byte(sig))
}
