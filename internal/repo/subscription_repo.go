// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Subscription model and the request log that quota accounting is derived
// from.
//
// Subscription rows are strictly one-per-user: every write path goes through
// an atomic upsert on the user_id unique index, so two concurrent requests
// that both see "no row" cannot create duplicates.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/foodio/go-meal-backend/internal/domain"
)

// GetSubscription returns the user's subscription row, or ErrNotFound.
func GetSubscription(ctx context.Context, db *gorm.DB, userID int64) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// UpsertSubscription inserts or updates the one subscription row for
// sub.UserID. On conflict the receipt, active flag, and tier are replaced;
// the row id and creation time survive.
func UpsertSubscription(ctx context.Context, db *gorm.DB, sub domain.Subscription) (*domain.Subscription, error) {
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"original_transaction_id", "is_active", "subscription_type", "updated_at",
			}),
		}).
		Create(&sub).Error
	if err != nil {
		return nil, err
	}
	return GetSubscription(ctx, db, sub.UserID)
}

// SetSubscriptionActive flips the active flag on a user's subscription row.
// Returns ErrNotFound when the user has no row.
func SetSubscriptionActive(ctx context.Context, db *gorm.DB, userID int64, active bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("user_id = ?", userID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendRequest records one admitted request. Exactly one row is written per
// admitted request; it is the sole side effect used for quota accounting.
func AppendRequest(ctx context.Context, db *gorm.DB, userID int64, kind, imageKey string, at time.Time) (*domain.RequestLog, error) {
	rec := &domain.RequestLog{
		UserID:   userID,
		Kind:     kind,
		ImageKey: imageKey,
		At:       at.UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteRequest removes one request-log row by id. It exists so a failed
// pipeline can refund the quota its admission charged.
func DeleteRequest(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Delete(&domain.RequestLog{}, id).Error
}

// SetRequestImageKey backfills the stored photo key on a request-log row once
// the upload key is known.
func SetRequestImageKey(ctx context.Context, db *gorm.DB, id int64, key string) error {
	return db.WithContext(ctx).
		Model(&domain.RequestLog{}).
		Where("id = ?", id).
		Update("image_key", key).Error
}

// CountRequestsOnDay returns the number of requests the user logged during
// the UTC calendar day containing t.
func CountRequestsOnDay(ctx context.Context, db *gorm.DB, userID int64, t time.Time) (int64, error) {
	t = t.UTC()
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var n int64
	err := db.WithContext(ctx).
		Model(&domain.RequestLog{}).
		Where("user_id = ? AND at >= ? AND at < ?", userID, dayStart, dayEnd).
		Count(&n).Error
	return n, err
}

// CountRequests returns the user's all-time request count.
func CountRequests(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.RequestLog{}).
		Where("user_id = ?", userID).
		Count(&n).Error
	return n, err
}
