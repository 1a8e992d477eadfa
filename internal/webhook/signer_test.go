package webhook

import (
	"errors"
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := NewSigner("secret")
	body := []byte(`{"type":"subtask.finalized"}`)
	at := time.Now().UTC()

	sig := signer.Sign(body, at)
	if err := signer.Verify(body, signer.Timestamp(at), sig, 5*time.Minute, at.Add(time.Minute)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	signer := NewSigner("secret")
	at := time.Now().UTC()
	sig := signer.Sign([]byte("original"), at)

	err := signer.Verify([]byte("tampered"), signer.Timestamp(at), sig, 5*time.Minute, at)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	at := time.Now().UTC()
	body := []byte("body")
	sig := NewSigner("secret-a").Sign(body, at)

	err := NewSigner("secret-b").Verify(body, NewSigner("secret-b").Timestamp(at), sig, 5*time.Minute, at)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	signer := NewSigner("secret")
	body := []byte("body")
	at := time.Now().UTC().Add(-10 * time.Minute)
	sig := signer.Sign(body, at)

	err := signer.Verify(body, signer.Timestamp(at), sig, 5*time.Minute, time.Now().UTC())
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("err = %v, want ErrStaleTimestamp", err)
	}
}

func TestVerifyRejectsMalformedTimestamp(t *testing.T) {
	signer := NewSigner("secret")
	if err := signer.Verify([]byte("body"), "not-a-number", "sig", time.Minute, time.Now()); err == nil {
		t.Fatal("expected error for malformed timestamp")
	}
}
