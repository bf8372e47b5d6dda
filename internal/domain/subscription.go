// Package domain defines the persistence models for users, meals, goals,
// subscriptions, and request accounting.
package domain

import (
	"time"
)

// Subscription is the locally cached subscription state for a user, keyed by
// the stable original transaction id of the purchase lineage. There is exactly
// one row per user (enforced by a unique index); re-purchases and renewals
// update the row in place. Rows are never hard-deleted.
//
// IsActive reflects the last answer from the app-store subscription-status
// API and may be stale by up to the spot-check interval (see the admission
// controller).
type Subscription struct {
	ID                    int64     `json:"id"                      gorm:"primaryKey;autoIncrement"`
	UserID                int64     `json:"user_id"                 gorm:"not null;uniqueIndex:ux_subscription_user"`
	OriginalTransactionID string    `json:"original_transaction_id" gorm:"type:text;not null"`
	SubscriptionType      int       `json:"subscription_type"`
	IsActive              bool      `json:"is_active"               gorm:"not null"`
	CreatedAt             time.Time `json:"-"`
	UpdatedAt             time.Time `json:"-"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// Request kinds recorded in the request log. A single character mirrors the
// wire-size-conscious original schema.
const (
	RequestKindMeal    = "M" // photo submission
	RequestKindBarcode = "B" // barcode submission
	RequestKindGoal    = "G" // goal generation
)

// RequestLog records one admitted inference request. Quota counters are
// derived from this table (count per user per UTC day, and all-time count for
// spot-check scheduling); exactly one row is appended per admitted request.
type RequestLog struct {
	ID       int64     `json:"id"       gorm:"primaryKey;autoIncrement"`
	UserID   int64     `json:"user_id"  gorm:"not null;index:idx_request_log_user"`
	Kind     string    `json:"kind"     gorm:"type:char(1);not null"`
	ImageKey string    `json:"img_link,omitempty" gorm:"type:varchar(255)"`
	At       time.Time `json:"date"     gorm:"not null;index:idx_request_log_at"`
}

// TableName returns the database table name for RequestLog.
func (RequestLog) TableName() string { return "request_log" }
