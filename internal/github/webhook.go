// Package github covers the forge surface the service depends on: webhook
// signature verification, event payload decoding, the four REST operations
// the pipeline consumes, and GitHub App authentication.
package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 signature of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

var (
	// ErrMissingSignature indicates the signature header was absent.
	ErrMissingSignature = errors.New("github: missing " + SignatureHeader + " header")
	// ErrMalformedSignature indicates a signature without the sha256= prefix
	// or with invalid hex.
	ErrMalformedSignature = errors.New("github: malformed webhook signature")
	// ErrSignatureMismatch indicates the signature did not match the body.
	ErrSignatureMismatch = errors.New("github: webhook signature mismatch")
)

// VerifySignature checks the X-Hub-Signature-256 value against the raw body.
// The comparison is constant-time.
func VerifySignature(secret, body []byte, header string) error {
	if header == "" {
		return ErrMissingSignature
	}

	hexDigest, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrMalformedSignature
	}

	claimed, err := hex.DecodeString(hexDigest)
	if err != nil {
		return ErrMalformedSignature
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if !hmac.Equal(expected, claimed) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the header value GitHub would send for the given body.
// Used by tests and by the actions-mode artifact writer.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
