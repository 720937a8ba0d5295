// Package webhook authenticates and applies YengaPay payment notifications.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
const SignatureHeader = "X-Webhook-Hash"

var (
	ErrMissingHeader    = errors.New("missing X-Webhook-Hash header")
	ErrEmptyPayload     = errors.New("empty payload received")
	ErrUnconfigured     = errors.New("webhook secret is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMACUnavailable means the signature could not be computed at all, e.g. the
	// HSM key is missing. It says nothing about the caller's signature.
	ErrMACUnavailable = errors.New("webhook signature could not be computed")
)

// HeaderLookup returns the value of the named header, matched without regard to case.
type HeaderLookup func(name string) (string, bool)

// MACFunc computes the raw HMAC-SHA256 of payload under key.
type MACFunc func(key string, payload []byte) ([]byte, error)

// HMACSHA256 computes the MAC in process.
func HMACSHA256(key string, payload []byte) ([]byte, error) {
	h := hmac.New(sha256.New, []byte(key))
	h.Write(payload)
	return h.Sum(nil), nil
}

type Authenticator struct {
	mac MACFunc
}

// NewAuthenticator returns an Authenticator computing MACs with mac, or in process when nil.
func NewAuthenticator(mac MACFunc) *Authenticator {
	if mac == nil {
		mac = HMACSHA256
	}
	return &Authenticator{mac: mac}
}

// Authenticate checks the signature header against rawBody. Checks run in a fixed
// order: header, payload, secret, signature. The body is never decoded here.
func (a *Authenticator) Authenticate(rawBody []byte, lookup HeaderLookup, secret string) error {
	var given string
	if lookup != nil {
		given, _ = lookup(SignatureHeader)
	}
	given = strings.TrimSpace(given)
	if given == "" {
		return ErrMissingHeader
	}
	if len(rawBody) == 0 {
		return ErrEmptyPayload
	}
	if secret == "" {
		return ErrUnconfigured
	}

	want, err := a.mac(secret, rawBody)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMACUnavailable, err)
	}
	got, err := hex.DecodeString(given)
	if err != nil {
		return ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare(want, got) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the X-Webhook-Hash value for body under secret.
func Sign(body []byte, secret string) string {
	sum, _ := HMACSHA256(secret, body)
	return hex.EncodeToString(sum)
}

// HeaderFromRequest adapts the headers of r to a HeaderLookup.
func HeaderFromRequest(r *http.Request) HeaderLookup {
	return HeaderFromMap(r.Header)
}

// HeaderFromMap scans every key so that non-canonical entries are found too.
func HeaderFromMap(h http.Header) HeaderLookup {
	return func(name string) (string, bool) {
		for key, values := range h {
			if strings.EqualFold(key, name) && len(values) > 0 {
				return values[0], true
			}
		}
		return "", false
	}
}
