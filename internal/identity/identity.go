// Package identity derives stable pseudonymous identifiers from
// caller-supplied values. Emails and device ids are never sent upstream
// or logged in raw form; only their keyed digests leave this package.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidEmail is returned when an address cannot be split into a
// non-empty local part and domain.
var ErrInvalidEmail = errors.New("invalid email address")

// Deriver computes keyed HMAC-SHA256 digests under an account-wide
// secret. The same input under the same secret always yields the same
// identifier, which lets a derived value double as a reproducible
// license key or machine fingerprint.
type Deriver struct {
	secret []byte
}

// NewDeriver creates a Deriver keyed with the given secret.
func NewDeriver(secret string) *Deriver {
	return &Deriver{secret: []byte(secret)}
}

// Derive returns the lowercase hex HMAC-SHA256 digest of input.
func (d *Deriver) Derive(input string) string {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(input))
	return hex.EncodeToString(mac.Sum(nil))
}

// EmailAddress is a parsed email address. Both parts are guaranteed
// non-empty.
type EmailAddress struct {
	Raw       string
	LocalPart string
	Domain    string
}

// ParseEmail splits an address on the first '@'. It does not attempt
// full RFC 5322 validation; tenant resolution only needs a usable
// domain and local part.
func ParseEmail(raw string) (EmailAddress, error) {
	local, domain, found := strings.Cut(raw, "@")
	if !found || local == "" || domain == "" {
		return EmailAddress{}, ErrInvalidEmail
	}
	return EmailAddress{Raw: raw, LocalPart: local, Domain: domain}, nil
}

// DisplayName returns the "{domain}/{localPart}" label used as the
// upstream license name.
func (e EmailAddress) DisplayName() string {
	return e.Domain + "/" + e.LocalPart
}
