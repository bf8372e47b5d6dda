package subscription

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var appStoreChecks = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "appstore_checks_total",
		Help: "App Store subscription-status checks by outcome.",
	},
	[]string{"outcome"}, // active | inactive | error
)

func init() {
	prometheus.MustRegister(appStoreChecks)
}

// DefaultActiveStatuses are the vendor status codes treated as "active".
// The values come from the store's own status enumeration and are carried as
// opaque configuration, not derived semantics.
var DefaultActiveStatuses = []int{0, 3, 4, 5}

const (
	appStoreAudience = "appstoreconnect-v1"
	// assertionTTL bounds the server-to-server assertion validity. The cached
	// assertion is reused until within refreshSkew of expiry.
	assertionTTL = 20 * time.Minute
	refreshSkew  = time.Minute
)

// ReceiptVerifier answers whether the purchase lineage behind a transaction
// id is currently active. Implementations must treat transport failures as a
// negative answer, never as an error: the admission controller retries on a
// later request instead of blocking this one.
type ReceiptVerifier interface {
	Active(ctx context.Context, originalTransactionID string) bool
}

// AppStoreClient calls the store's subscription-status endpoint using a
// signed ES256 assertion as bearer auth. The assertion is cached process-wide
// and refreshed near expiry; concurrent refreshes are serialized.
//
// AppStoreClient is safe for concurrent use.
type AppStoreClient struct {
	baseURL    string
	keyID      string
	issuerID   string
	privateKey *ecdsa.PrivateKey
	active     map[int]struct{}
	client     *http.Client
	now        func() time.Time

	mu           sync.Mutex
	assertion    string
	assertionExp time.Time
}

// AppStoreConfig configures an AppStoreClient.
type AppStoreConfig struct {
	// BaseURL of the store server API, without a trailing slash.
	BaseURL string
	// KeyID is the kid header for the signed assertion.
	KeyID string
	// IssuerID is the iss claim for the signed assertion.
	IssuerID string
	// PrivateKey signs the assertion (ES256).
	PrivateKey *ecdsa.PrivateKey
	// ActiveStatuses overrides DefaultActiveStatuses when non-empty.
	ActiveStatuses []int
	// HTTPClient overrides the default 10s-timeout client.
	HTTPClient *http.Client
}

// NewAppStoreClient constructs a client from cfg.
func NewAppStoreClient(cfg AppStoreConfig) *AppStoreClient {
	statuses := cfg.ActiveStatuses
	if len(statuses) == 0 {
		statuses = DefaultActiveStatuses
	}
	active := make(map[int]struct{}, len(statuses))
	for _, s := range statuses {
		active[s] = struct{}{}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &AppStoreClient{
		baseURL:    cfg.BaseURL,
		keyID:      cfg.KeyID,
		issuerID:   cfg.IssuerID,
		privateKey: cfg.PrivateKey,
		active:     active,
		client:     client,
		now:        time.Now,
	}
}

// Active reports whether the subscription behind originalTransactionID is
// currently active at the store. Transport errors, non-2xx responses, and
// unrecognized payloads all report false; failures are logged but never
// propagated, per the admission controller's "negative result, retry on a
// later request" policy.
func (c *AppStoreClient) Active(ctx context.Context, originalTransactionID string) bool {
	token, err := c.bearerAssertion()
	if err != nil {
		log.Error().Err(err).Msg("appstore: signing assertion failed")
		appStoreChecks.WithLabelValues("error").Inc()
		return false
	}

	url := fmt.Sprintf("%s/inApps/v1/subscriptions/%s", c.baseURL, originalTransactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Error().Err(err).Msg("appstore: building status request failed")
		appStoreChecks.WithLabelValues("error").Inc()
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("appstore: status call failed")
		appStoreChecks.WithLabelValues("error").Inc()
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("appstore: non-200 status response")
		appStoreChecks.WithLabelValues("error").Inc()
		return false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Warn().Err(err).Msg("appstore: reading status response failed")
		appStoreChecks.WithLabelValues("error").Inc()
		return false
	}

	var payload struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn().Err(err).Msg("appstore: decoding status response failed")
		appStoreChecks.WithLabelValues("error").Inc()
		return false
	}

	_, ok := c.active[payload.Status]
	if ok {
		appStoreChecks.WithLabelValues("active").Inc()
	} else {
		appStoreChecks.WithLabelValues("inactive").Inc()
	}
	return ok
}

// bearerAssertion returns the cached signed assertion, minting a fresh one
// when the cache is empty or within refreshSkew of expiry.
func (c *AppStoreClient) bearerAssertion() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.assertion != "" && now.Before(c.assertionExp.Add(-refreshSkew)) {
		return c.assertion, nil
	}

	exp := now.Add(assertionTTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": c.issuerID,
		"iat": now.Unix(),
		"exp": exp.Unix(),
		"aud": appStoreAudience,
	})
	tok.Header["kid"] = c.keyID

	signed, err := tok.SignedString(c.privateKey)
	if err != nil {
		return "", err
	}
	c.assertion = signed
	c.assertionExp = exp
	return signed, nil
}

// ParseAppStoreKey parses the PEM-encoded ES256 private key issued by the
// store for server-to-server auth.
func ParseAppStoreKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	return jwt.ParseECPrivateKeyFromPEM(pemBytes)
}
