package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// IssuerConfig binds one issuer's key set to the audience and issuer-URL
// claims a token must carry to be accepted by it.
type IssuerConfig struct {
	// Keys is the issuer's cached JWKS.
	Keys *KeySet
	// Audience is the expected aud claim (the app's client id at this issuer).
	Audience string
	// IssuerURL is the expected iss claim, compared as an exact string.
	IssuerURL string
}

// tokenClaims is the claim set parsed from a bearer token. Email is optional.
type tokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens against the primary issuer and falls back
// to the secondary issuer when the primary rejects. It is safe for concurrent
// use; the only mutable state lives in the per-issuer key caches.
type Verifier struct {
	Primary   IssuerConfig
	Secondary IssuerConfig
}

// NewVerifier constructs a Verifier for the two configured issuers.
func NewVerifier(primary, secondary IssuerConfig) *Verifier {
	return &Verifier{Primary: primary, Secondary: secondary}
}

// Verify resolves a bearer token to normalized Claims.
//
// The token header is parsed unverified first to extract the signing key id;
// a token that does not parse at all fails fast with ErrMalformedToken. The
// primary issuer is then tried in full (key lookup, signature, expiry,
// audience, issuer), and on any failure the identical procedure runs against
// the secondary issuer. When both reject, the caller receives only
// ErrUnauthorized; the per-issuer reasons are logged at debug level.
//
// Verify performs no negative caching: an invalid token is re-verified on
// every call, and a valid token yields identical Claims every time.
func (v *Verifier) Verify(ctx context.Context, token string) (Claims, error) {
	kid, err := headerKeyID(token)
	if err != nil {
		return Claims{}, err
	}

	claims, primaryErr := v.verifyAgainst(ctx, v.Primary, IssuerPrimary, token, kid)
	if primaryErr == nil {
		return claims, nil
	}

	claims, secondaryErr := v.verifyAgainst(ctx, v.Secondary, IssuerSecondary, token, kid)
	if secondaryErr == nil {
		return claims, nil
	}

	// Server-side detail only; clients must not learn which issuer almost
	// matched.
	log.Debug().
		AnErr("primary", primaryErr).
		AnErr("secondary", secondaryErr).
		Msg("token rejected by both issuers")
	return Claims{}, ErrUnauthorized
}

// verifyAgainst runs the full verification procedure for one issuer. An
// unknown kid triggers a single cache invalidation and retry so that rotated
// issuer keys are picked up without a process restart.
func (v *Verifier) verifyAgainst(ctx context.Context, cfg IssuerConfig, which Issuer, token, kid string) (Claims, error) {
	key, err := cfg.Keys.Key(ctx, kid)
	if err == ErrUnknownKey {
		cfg.Keys.Invalidate()
		key, err = cfg.Keys.Key(ctx, kid)
	}
	if err != nil {
		return Claims{}, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(cfg.Audience),
		jwt.WithIssuer(cfg.IssuerURL),
		jwt.WithExpirationRequired(),
	)

	var tc tokenClaims
	if _, err := parser.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return Claims{}, fmt.Errorf("%s issuer: %w", which, err)
	}

	if tc.Subject == "" {
		return Claims{}, fmt.Errorf("%s issuer: token has no subject", which)
	}
	return Claims{Subject: tc.Subject, Email: tc.Email, Issuer: which}, nil
}

// headerKeyID extracts the kid from the unverified token header.
func headerKeyID(token string) (string, error) {
	parser := jwt.NewParser()
	t, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", ErrMalformedToken
	}
	kid, ok := t.Header["kid"].(string)
	if !ok || kid == "" {
		return "", ErrMalformedToken
	}
	return kid, nil
}
