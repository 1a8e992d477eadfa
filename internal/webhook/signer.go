package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Header names carried on every delivery.
const (
	HeaderSignature = "X-Glossa-Signature"
	HeaderTimestamp = "X-Glossa-Timestamp"
	HeaderEventID   = "X-Glossa-Event-Id"
	HeaderEventType = "X-Glossa-Event-Type"
)

var (
	// ErrBadSignature indicates the signature does not match the body.
	ErrBadSignature = errors.New("signature mismatch")
	// ErrStaleTimestamp indicates the signed timestamp fell outside the
	// freshness window.
	ErrStaleTimestamp = errors.New("timestamp outside freshness window")
)

// Signer computes and verifies HMAC-SHA256 signatures over event bodies. The
// signed input is the unix timestamp, a dot, and the raw body, which binds
// the signature to the delivery time and defeats replay past the freshness
// window.
type Signer struct {
	secret []byte
}

// NewSigner builds a signer from the shared webhook secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns the hex signature for a body at the given time.
func (s *Signer) Sign(body []byte, at time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Timestamp renders the header value paired with Sign.
func (s *Signer) Timestamp(at time.Time) string {
	return strconv.FormatInt(at.Unix(), 10)
}

// Verify checks a received signature and timestamp against the body. The
// timestamp must fall within the freshness window of now.
func (s *Signer) Verify(body []byte, timestampHeader, signature string, window time.Duration, now time.Time) error {
	unix, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("parse timestamp header: %w", err)
	}
	at := time.Unix(unix, 0)
	if window > 0 {
		drift := now.Sub(at)
		if drift < 0 {
			drift = -drift
		}
		if drift > window {
			return ErrStaleTimestamp
		}
	}
	expected := s.Sign(body, at)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
