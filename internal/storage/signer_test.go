package storage

import (
	"testing"
	"time"
)

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner("signing-secret")
	key := "prescriptions/42/20240115_103000_a1b2c3d4_scan.jpg"
	expires := time.Now().Add(time.Hour).Unix()

	sig := s.Sign(key, expires)
	if !s.Verify(key, expires, sig) {
		t.Fatal("Verify() rejected a fresh signature")
	}
}

func TestSignerRejectsExpired(t *testing.T) {
	s := NewSigner("signing-secret")
	expires := time.Now().Add(-time.Minute).Unix()

	sig := s.Sign("prescriptions/42/file.jpg", expires)
	if s.Verify("prescriptions/42/file.jpg", expires, sig) {
		t.Fatal("Verify() accepted an expired signature")
	}
}

func TestSignerRejectsTampering(t *testing.T) {
	s := NewSigner("signing-secret")
	expires := time.Now().Add(time.Hour).Unix()
	sig := s.Sign("prescriptions/42/file.jpg", expires)

	if s.Verify("prescriptions/43/file.jpg", expires, sig) {
		t.Error("Verify() accepted a signature for a different key")
	}
	if s.Verify("prescriptions/42/file.jpg", expires+60, sig) {
		t.Error("Verify() accepted a signature for a different expiry")
	}
	if s.Verify("prescriptions/42/file.jpg", expires, sig[:len(sig)-2]+"ff") {
		t.Error("Verify() accepted a modified signature")
	}
}

func TestSignerSecretsDiffer(t *testing.T) {
	expires := time.Now().Add(time.Hour).Unix()
	sig := NewSigner("secret-a").Sign("key", expires)
	if NewSigner("secret-b").Verify("key", expires, sig) {
		t.Fatal("signature verified under a different secret")
	}
}
