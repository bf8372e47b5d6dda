package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// defaultFetchTimeout bounds a single JWKS fetch.
const defaultFetchTimeout = 10 * time.Second

// KeySet is a process-wide cache of one issuer's published signing keys,
// keyed by kid. It is populated lazily on first use and then held for the
// lifetime of the process; concurrent first requests are deduplicated with a
// single-flight group so a cold start performs exactly one fetch.
//
// An explicit Invalidate exists so a verifier that encounters an unknown kid
// can force one refetch, which is how issuer key rotation is absorbed without
// a TTL timer.
//
// KeySet is safe for concurrent use.
type KeySet struct {
	url    string
	client *http.Client

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey // nil until first successful fetch

	group singleflight.Group
}

// NewKeySet creates a KeySet for the given JWKS URL. A nil client gets a
// default with a 10s timeout; all outbound calls must be bounded.
func NewKeySet(url string, client *http.Client) *KeySet {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &KeySet{url: url, client: client}
}

// Key returns the public key for kid, fetching the issuer's key set first if
// the cache is cold. A missing kid in a warm cache returns ErrUnknownKey; a
// failed fetch returns ErrKeySetUnavailable and leaves the cache empty so the
// next request retries.
func (ks *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks.mu.RLock()
	keys := ks.keys
	ks.mu.RUnlock()

	if keys == nil {
		var err error
		keys, err = ks.populate(ctx)
		if err != nil {
			return nil, err
		}
	}

	if k, ok := keys[kid]; ok {
		return k, nil
	}
	return nil, ErrUnknownKey
}

// Invalidate drops the cached keys so the next Key call refetches. Called by
// the verifier after an unknown-kid miss to pick up rotated keys.
func (ks *KeySet) Invalidate() {
	ks.mu.Lock()
	ks.keys = nil
	ks.mu.Unlock()
}

// populate fetches and installs the key set. All concurrent callers share one
// in-flight fetch; every caller sees either the same key map or the same
// error.
func (ks *KeySet) populate(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	v, err, _ := ks.group.Do(ks.url, func() (any, error) {
		// Double-check under the group: another caller may have populated the
		// cache between our read miss and acquiring the flight.
		ks.mu.RLock()
		cached := ks.keys
		ks.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		keys, err := ks.fetch(ctx)
		if err != nil {
			return nil, err
		}
		ks.mu.Lock()
		ks.keys = keys
		ks.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]*rsa.PublicKey), nil
}

// fetch GETs the JWKS document and converts each RSA entry into a usable
// public key. Non-200 responses and transport errors both map to
// ErrKeySetUnavailable.
func (ks *KeySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrKeySetUnavailable, resp.StatusCode, ks.url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	var doc struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "" && k.Kty != "RSA" {
			continue
		}
		pub, err := rsaKeyFromModExp(k.N, k.E)
		if err != nil {
			// Skip unusable entries rather than failing the whole set; one
			// bad key must not take the issuer offline.
			continue
		}
		keys[k.Kid] = pub
	}
	return keys, nil
}

// rsaKeyFromModExp builds an rsa.PublicKey from base64url modulus and
// exponent strings as published in a JWKS document.
func rsaKeyFromModExp(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	exp := 0
	for _, b := range eBytes {
		exp = exp<<8 | int(b)
	}
	if exp == 0 {
		return nil, fmt.Errorf("zero exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: exp}, nil
}
