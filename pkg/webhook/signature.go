package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// HeaderName is the header the AI platform signs result callbacks with.
const HeaderName = "ElevenLabs-Signature"

var (
	// ErrMissingSignature is returned when the signature header is absent
	ErrMissingSignature = errors.New("missing signature header")
	// ErrMalformedSignature is returned when the header lacks a t or v0 component
	ErrMalformedSignature = errors.New("invalid signature format")
	// ErrInvalidSignature is returned when the digest does not match the body
	ErrInvalidSignature = errors.New("invalid signature")
)

// Signature is a parsed "t=<unix-timestamp>,v0=<hex-digest>" header value.
type Signature struct {
	Timestamp string
	Digest    string
}

// ParseHeader splits a signature header into its timestamp and digest.
// Unknown components are ignored.
func ParseHeader(header string) (Signature, error) {
	if header == "" {
		return Signature{}, ErrMissingSignature
	}

	var sig Signature
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			sig.Timestamp = value
		case "v0":
			sig.Digest = value
		}
	}

	if sig.Timestamp == "" || sig.Digest == "" {
		return Signature{}, ErrMalformedSignature
	}
	return sig, nil
}

// Verify checks a signed callback body against the shared secret.
// The digest is HMAC-SHA256(secret, "<timestamp>.<body>") in lowercase hex,
// compared in constant time. Timestamps are not checked for freshness.
func Verify(secret, header string, body []byte) error {
	sig, err := ParseHeader(header)
	if err != nil {
		return err
	}

	expected := computeDigest(secret, sig.Timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(sig.Digest)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign produces a header value for body, as the AI platform would send it.
func Sign(secret, timestamp string, body []byte) string {
	return "t=" + timestamp + ",v0=" + computeDigest(secret, timestamp, body)
}

func computeDigest(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
