// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Meal model.
//
// Error semantics:
//   - When a meal is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/foodio/go-meal-backend/internal/domain"
)

// CreateMeal inserts a meal row with its warnings in one write. EatenAt is
// normalized to UTC.
func CreateMeal(ctx context.Context, db *gorm.DB, meal *domain.Meal) error {
	meal.EatenAt = meal.EatenAt.UTC()
	return db.WithContext(ctx).Create(meal).Error
}

// GetMeal fetches a single meal (with warnings) by id and owner. If the
// record does not exist or belongs to another user, it returns ErrNotFound.
func GetMeal(ctx context.Context, db *gorm.DB, id, userID int64) (*domain.Meal, error) {
	var m domain.Meal
	err := db.WithContext(ctx).
		Preload("Warnings").
		Where("id = ? AND user_id = ?", id, userID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CountMeals returns the total number of meals owned by the user.
func CountMeals(ctx context.Context, db *gorm.DB, userID int64) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Meal{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// ListMealsPage returns a page of the user's meals ordered by submission time
// descending, warnings preloaded. The caller computes offset and limit.
func ListMealsPage(ctx context.Context, db *gorm.DB, userID int64, offset, limit int) ([]domain.Meal, error) {
	var out []domain.Meal
	err := db.WithContext(ctx).
		Preload("Warnings").
		Where("user_id = ?", userID).
		Order("eaten_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListMealsBetween returns the user's meals in [from, to), oldest first,
// warnings preloaded. Used for by-day grouping.
func ListMealsBetween(ctx context.Context, db *gorm.DB, userID int64, from, to time.Time) ([]domain.Meal, error) {
	var out []domain.Meal
	err := db.WithContext(ctx).
		Preload("Warnings").
		Where("user_id = ? AND eaten_at >= ? AND eaten_at < ?", userID, from.UTC(), to.UTC()).
		Order("eaten_at asc").
		Find(&out).Error
	return out, err
}

// SetMealAdded marks whether a meal was committed to the user's journal.
// Returns ErrNotFound when the meal is missing or owned by another user.
func SetMealAdded(ctx context.Context, db *gorm.DB, id, userID int64, added bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Meal{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("added", added)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
