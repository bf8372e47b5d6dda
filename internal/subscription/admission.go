package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/foodio/go-meal-backend/internal/domain"
	"github.com/foodio/go-meal-backend/internal/repo"
)

var admissionDecisions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "admission_decisions_total",
		Help: "Admission decisions by outcome.",
	},
	[]string{"outcome"}, // allow_free | allow_subscriber | quota_exceeded | subscription_expired
)

func init() {
	prometheus.MustRegister(admissionDecisions)
}

// QuotaLimits is the configurable daily request table per subscription state.
type QuotaLimits struct {
	// Inactive is the daily limit for users without an active subscription.
	Inactive int
	// Active is the daily limit for subscribers.
	Active int
}

// DefaultQuotaLimits mirrors the shipped configuration.
var DefaultQuotaLimits = QuotaLimits{Inactive: 3, Active: 50}

// DefaultSpotCheckInterval re-verifies an active subscription at the store on
// every Nth all-time request. It bounds is_active staleness to roughly one
// external check per N requests instead of trusting store notifications
// exclusively.
const DefaultSpotCheckInterval = 10

// Controller decides whether a request from a verified user may proceed. It
// reconciles the stored Subscription row against the store (self-heal, new
// receipts, spot checks) and enforces the daily quota, all inside one
// database transaction so concurrent requests for the same user cannot
// double-admit past the limit.
//
// Controller is safe for concurrent use.
type Controller struct {
	// DB is the GORM handle; each Admit call opens its own transaction.
	DB *gorm.DB
	// Verifier answers subscription-status questions at the store.
	Verifier ReceiptVerifier
	// Limits is the daily quota table; zero values fall back to defaults.
	Limits QuotaLimits
	// SpotCheckInterval is the Nth-request re-verification period;
	// zero falls back to DefaultSpotCheckInterval.
	SpotCheckInterval int
	// Now is injectable for tests; nil means time.Now. Quota days are UTC.
	Now func() time.Time
}

// NewController constructs a Controller with default limits and interval.
func NewController(db *gorm.DB, verifier ReceiptVerifier) *Controller {
	return &Controller{
		DB:                db,
		Verifier:          verifier,
		Limits:            DefaultQuotaLimits,
		SpotCheckInterval: DefaultSpotCheckInterval,
	}
}

func (c *Controller) limits() QuotaLimits {
	l := c.Limits
	if l.Inactive <= 0 {
		l.Inactive = DefaultQuotaLimits.Inactive
	}
	if l.Active <= 0 {
		l.Active = DefaultQuotaLimits.Active
	}
	return l
}

func (c *Controller) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Admit decides whether a request of the given kind for userID may proceed.
// receiptID is the decoded original transaction id supplied with the request;
// empty means the client sent no receipt.
//
// The sequence, per incoming request:
//
//  1. Load the user's Subscription row (absent means inactive, no receipt).
//  2. Self-heal: a stored receipt marked inactive is re-verified; success
//     flips it active so a lapsed row recovers without a new purchase.
//  3. A supplied receipt that differs from the stored one is verified; on
//     success the row is upserted with the new receipt, on failure the stored
//     state is left untouched.
//  4. The daily (UTC) request count is checked against the tier's limit.
//  5. For subscribers, every SpotCheckInterval-th all-time request triggers a
//     re-verification; a negative answer deactivates the row and rejects the
//     triggering request.
//  6. An Allow charges the quota immediately: the request-log row is written
//     inside the same transaction as the count, so overlapping requests from
//     one user serialize on the row and cannot admit past the limit.
//
// A deny outcome is returned as a Decision, not an error; the error return is
// reserved for persistence failures, which roll back the whole transaction.
func (c *Controller) Admit(ctx context.Context, userID int64, receiptID, kind string) (Decision, error) {
	var decision Decision

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		d, err := c.admit(ctx, tx, userID, receiptID, kind)
		if err != nil {
			return err
		}
		decision = d
		return nil
	})
	if err != nil {
		return Decision{}, err
	}

	admissionDecisions.WithLabelValues(decision.outcomeLabel()).Inc()
	return decision, nil
}

func (c *Controller) admit(ctx context.Context, tx *gorm.DB, userID int64, receiptID, kind string) (Decision, error) {
	now := c.now().UTC()
	limits := c.limits()

	sub, err := repo.GetSubscription(ctx, tx, userID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return Decision{}, err
	}

	var (
		storedReceipt string
		isActive      bool
	)
	if sub != nil {
		storedReceipt = sub.OriginalTransactionID
		isActive = sub.IsActive
	}

	// Self-heal: a lapsed subscription may have recovered without this system
	// hearing about it.
	if storedReceipt != "" && !isActive {
		if c.Verifier.Active(ctx, storedReceipt) {
			if err := repo.SetSubscriptionActive(ctx, tx, userID, true); err != nil {
				return Decision{}, err
			}
			isActive = true
		}
	}

	// A new receipt only ever upgrades state; an unverifiable one must not
	// downgrade an already-active different receipt.
	if receiptID != "" && receiptID != storedReceipt {
		if c.Verifier.Active(ctx, receiptID) {
			if _, err := repo.UpsertSubscription(ctx, tx, domain.Subscription{
				UserID:                userID,
				OriginalTransactionID: receiptID,
				IsActive:              true,
			}); err != nil {
				return Decision{}, err
			}
			storedReceipt = receiptID
			isActive = true
		}
	}

	dailyLimit := limits.Inactive
	if isActive {
		dailyLimit = limits.Active
	}

	today, err := repo.CountRequestsOnDay(ctx, tx, userID, now)
	if err != nil {
		return Decision{}, err
	}
	if today >= int64(dailyLimit) {
		return Decision{
			Allowed:    false,
			Reason:     DenyQuotaExceeded,
			RetryAfter: startOfNextDay(now),
		}, nil
	}

	interval := c.SpotCheckInterval
	if interval <= 0 {
		interval = DefaultSpotCheckInterval
	}
	if isActive {
		total, err := repo.CountRequests(ctx, tx, userID)
		if err != nil {
			return Decision{}, err
		}
		if (total+1)%int64(interval) == 0 {
			check := storedReceipt
			if check == "" {
				check = receiptID
			}
			if !c.Verifier.Active(ctx, check) {
				if err := repo.SetSubscriptionActive(ctx, tx, userID, false); err != nil {
					return Decision{}, err
				}
				return Decision{Allowed: false, Reason: DenySubscriptionExpired}, nil
			}
		}
	}

	tier := TierFree
	if isActive {
		tier = TierSubscriber
	}

	// Charge the quota in the same transaction as the count above.
	logRec, err := repo.AppendRequest(ctx, tx, userID, kind, "", now)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: true, Tier: tier, RequestLogID: logRec.ID}, nil
}

// Release removes the request-log row a successful Admit charged, refunding
// the quota when the admitted pipeline fails before completing. logID zero is
// a no-op.
func (c *Controller) Release(ctx context.Context, logID int64) error {
	if logID == 0 {
		return nil
	}
	return repo.DeleteRequest(ctx, c.DB, logID)
}

// outcomeLabel maps a decision to its metric label.
func (d Decision) outcomeLabel() string {
	if d.Allowed {
		return "allow_" + d.Tier
	}
	return string(d.Reason)
}

// startOfNextDay returns the next UTC midnight after t, which is when a daily
// quota denial clears.
func startOfNextDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
