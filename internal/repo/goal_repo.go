// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers goals, dietary problems, and weight
// entries, which make up the user context consumed by nutrition inference.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/foodio/go-meal-backend/internal/domain"
)

// CreateGoal appends a goal row for the user.
func CreateGoal(ctx context.Context, db *gorm.DB, goal *domain.Goal) error {
	return db.WithContext(ctx).Create(goal).Error
}

// LatestGoal returns the user's most recent goal by start date, or
// ErrNotFound when no goal exists yet.
func LatestGoal(ctx context.Context, db *gorm.DB, userID int64) (*domain.Goal, error) {
	var g domain.Goal
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("start_date desc").
		First(&g).Error
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// UpdateGoalField updates a single macro column on a goal owned by userID.
// Returns ErrNotFound when the goal is missing or not owned.
func UpdateGoalField(ctx context.Context, db *gorm.DB, goalID, userID int64, column string, value int) error {
	res := db.WithContext(ctx).
		Model(&domain.Goal{}).
		Where("id = ? AND user_id = ?", goalID, userID).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CreateProblem inserts a dietary problem for the user.
func CreateProblem(ctx context.Context, db *gorm.DB, userID int64, description string) (*domain.Problem, error) {
	p := &domain.Problem{UserID: userID, Description: description}
	if err := db.WithContext(ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// ListProblems returns up to limit of the user's most recent problems.
// The cap keeps inference prompts bounded.
func ListProblems(ctx context.Context, db *gorm.DB, userID int64, limit int) ([]domain.Problem, error) {
	var out []domain.Problem
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// UpdateProblem replaces a problem's description, enforcing ownership.
func UpdateProblem(ctx context.Context, db *gorm.DB, id, userID int64, description string) error {
	res := db.WithContext(ctx).
		Model(&domain.Problem{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("description", description)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteProblem soft-deletes a problem, enforcing ownership.
func DeleteProblem(ctx context.Context, db *gorm.DB, id, userID int64) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Problem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AddWeight appends a weight measurement for the user.
func AddWeight(ctx context.Context, db *gorm.DB, userID int64, weight float64, date time.Time) (*domain.WeightEntry, error) {
	w := &domain.WeightEntry{UserID: userID, Weight: weight, Date: date.UTC()}
	if err := db.WithContext(ctx).Create(w).Error; err != nil {
		return nil, err
	}
	return w, nil
}
