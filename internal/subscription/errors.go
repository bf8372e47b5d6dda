// Package subscription implements subscription-gated request admission: it
// reconciles the locally cached subscription row against the app store's
// subscription-status API, enforces daily usage quotas, and periodically
// spot-checks active subscriptions so out-of-band cancellations are noticed
// without a webhook.
//
// This file centralizes the package's error values and the Decision type
// returned to callers. Handlers translate DenyReason values into HTTP
// statuses; the mapping lives here so it stays consistent across endpoints.
package subscription

import (
	"errors"
	"net/http"
	"time"
)

// ErrMalformedReceipt is returned when a supplied receipt cannot be decoded
// (invalid base64, invalid JSON, or a missing transaction id). It is a client
// error, distinct from a receipt that decodes fine but fails verification.
var ErrMalformedReceipt = errors.New("malformed receipt")

// DenyReason enumerates why an admission request was refused.
type DenyReason string

const (
	// DenyQuotaExceeded: the user hit today's request limit for their tier.
	DenyQuotaExceeded DenyReason = "quota_exceeded"
	// DenySubscriptionExpired: a spot re-verification found the subscription
	// no longer active at the store.
	DenySubscriptionExpired DenyReason = "subscription_expired"
)

// Quota tiers reported on an Allow decision.
const (
	TierFree       = "free"
	TierSubscriber = "subscriber"
)

// Decision is the admission outcome for one request.
//
// When Allowed is true, Tier carries the quota tier the request was admitted
// under. When false, Reason says why, RetryAfter (quota denials only) says
// when the caller may try again, and HTTPStatus carries the transport mapping.
type Decision struct {
	Allowed    bool       `json:"allowed"`
	Tier       string     `json:"tier,omitempty"`
	Reason     DenyReason `json:"reason,omitempty"`
	RetryAfter time.Time  `json:"retry_after,omitempty"`

	// RequestLogID identifies the quota row charged by an Allow decision.
	// Callers pass it to Controller.Release when the admitted work fails, so
	// the aborted attempt does not consume quota. Zero on denials.
	RequestLogID int64 `json:"-"`
}

// HTTPStatus maps a denial to its HTTP status code. Allowed decisions map to
// 200 for completeness, though callers never serialize those directly.
func (d Decision) HTTPStatus() int {
	if d.Allowed {
		return http.StatusOK
	}
	switch d.Reason {
	case DenyQuotaExceeded:
		return http.StatusTooManyRequests
	case DenySubscriptionExpired:
		return http.StatusForbidden
	default:
		return http.StatusForbidden
	}
}

// DeniedError wraps a deny Decision so services can propagate it through
// error returns; handlers unwrap it with errors.As and serialize the
// decision.
type DeniedError struct {
	Decision Decision
}

// Error implements the error interface.
func (e *DeniedError) Error() string { return "request denied: " + string(e.Decision.Reason) }
