// Package services – SubscriptionService
//
// This file implements the SubscriptionService, which handles explicit
// purchase registration (POST /subscription) and status reads. Per-request
// reconciliation and quota enforcement live in the admission controller; this
// service only covers the purchase flow, where an unverifiable receipt is an
// error rather than a silent downgrade.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/foodio/go-meal-backend/internal/domain"
	"github.com/foodio/go-meal-backend/internal/repo"
	"github.com/foodio/go-meal-backend/internal/subscription"
)

// SubscriptionService registers purchases and reports subscription state.
type SubscriptionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Verifier answers subscription-status questions at the store.
	Verifier subscription.ReceiptVerifier
}

// Register decodes and verifies a purchase receipt and stores it as the
// user's active subscription. Unlike admission-path receipts, a receipt that
// cannot be confirmed active fails the call with ErrReceiptNotVerified.
func (s *SubscriptionService) Register(ctx context.Context, userID int64, rawReceipt string, subscriptionType int) (*domain.Subscription, error) {
	receiptID, err := subscription.DecodeReceipt(rawReceipt)
	if err != nil {
		return nil, err
	}
	if !s.Verifier.Active(ctx, receiptID) {
		return nil, ErrReceiptNotVerified
	}
	return repo.UpsertSubscription(ctx, s.DB, domain.Subscription{
		UserID:                userID,
		OriginalTransactionID: receiptID,
		SubscriptionType:      subscriptionType,
		IsActive:              true,
	})
}

// Status returns the stored subscription row, or nil when the user never
// registered a purchase.
func (s *SubscriptionService) Status(ctx context.Context, userID int64) (*domain.Subscription, error) {
	sub, err := repo.GetSubscription(ctx, s.DB, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}
