// Package services – ProfileService
//
// This file implements the ProfileService, which exposes the authenticated
// user's profile, single-field updates over a column whitelist, and account
// deletion (soft delete, so historical rows stay consistent).
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/foodio/go-meal-backend/internal/domain"
	"github.com/foodio/go-meal-backend/internal/repo"
)

// profileEditable whitelists the columns PATCH requests may touch.
var profileEditable = map[string]bool{
	"email":      true,
	"sex":        true,
	"birth_date": true,
	"height_cm":  true,
	"diet":       true,
}

// ProfileService provides user-profile operations.
type ProfileService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
}

// Get returns the user's profile.
func (s *ProfileService) Get(ctx context.Context, userID int64) (*domain.User, error) {
	user, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// UpdateField sets one whitelisted profile column.
func (s *ProfileService) UpdateField(ctx context.Context, userID int64, field string, value any) error {
	if !profileEditable[field] {
		return ErrInvalidField
	}
	if err := repo.UpdateUserField(ctx, s.DB, userID, field, value); err != nil {
		if repo.IsNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// Delete soft-deletes the account. Subsequent sign-ins with the same subject
// create a fresh row.
func (s *ProfileService) Delete(ctx context.Context, userID int64) error {
	if err := repo.DeleteUser(ctx, s.DB, userID); err != nil {
		if repo.IsNotFound(err) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}
