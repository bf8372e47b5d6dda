// Package auth implements bearer-token verification against two federated
// identity issuers: a primary managed user pool and Apple Sign-In as a
// secondary. A token is accepted when either issuer's key set validates its
// signature, expiry, audience, and issuer claims.
//
// The package deliberately returns a coarse ErrUnauthorized to callers when
// both issuers reject a token; per-issuer failure detail is logged server-side
// only so clients cannot probe which issuer almost matched.
package auth

import "errors"

// Issuer identifies which federated identity provider verified a token.
type Issuer string

const (
	// IssuerPrimary is the managed user-pool provider checked first.
	IssuerPrimary Issuer = "primary"
	// IssuerSecondary is the device-maker sign-in provider checked when the
	// primary rejects the token.
	IssuerSecondary Issuer = "secondary"
)

// Claims is the normalized result of a successful token verification.
// It is produced fresh per request and never persisted directly; callers map
// Subject to a local user record.
type Claims struct {
	// Subject is the issuer's stable opaque identifier for the user.
	// It is mandatory and is the only field used for identity lookup.
	Subject string
	// Email is best-effort; Apple private-relay users may have none.
	Email string
	// Issuer records which provider verified the token.
	Issuer Issuer
}

// Verification errors. Handlers map every one of these to HTTP 401; the
// distinctions exist for logs and tests, not for clients.
var (
	// ErrMalformedToken is returned when the token cannot be parsed at all
	// (not a JWT, or header lacks a key id).
	ErrMalformedToken = errors.New("malformed token")

	// ErrUnknownKey is an issuer-scoped failure: the token names a key id the
	// issuer's key set does not contain.
	ErrUnknownKey = errors.New("no key matches token kid")

	// ErrKeySetUnavailable is returned when an issuer's JWKS endpoint cannot
	// be fetched. It degrades only that issuer for the current request; the
	// cache stays empty so the next request retries.
	ErrKeySetUnavailable = errors.New("key set unavailable")

	// ErrUnauthorized is the only error surfaced to callers when both issuers
	// reject a token.
	ErrUnauthorized = errors.New("token not valid for any configured issuer")
)
