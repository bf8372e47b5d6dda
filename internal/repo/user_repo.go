// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/foodio/go-meal-backend/internal/domain"
)

// GetOrCreateUserBySubject resolves the issuer subject to a local user row,
// creating the row on first sight. The insert uses ON CONFLICT DO NOTHING on
// the subject's unique index followed by a re-read, so two concurrent first
// requests for the same subject converge on one row.
//
// A non-empty email updates a previously empty one (some issuers only release
// the address on the first sign-in).
func GetOrCreateUserBySubject(ctx context.Context, db *gorm.DB, subject, email string) (*domain.User, error) {
	u := &domain.User{
		Subject:  subject,
		Email:    email,
		JoinedAt: time.Now().UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subject"}},
			DoNothing: true,
		}).
		Create(u)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 1 {
		return u, nil
	}

	var existing domain.User
	if err := db.WithContext(ctx).Where("subject = ?", subject).First(&existing).Error; err != nil {
		return nil, err
	}
	if existing.Email == "" && email != "" {
		if err := db.WithContext(ctx).
			Model(&domain.User{}).
			Where("id = ?", existing.ID).
			Update("email", email).Error; err != nil {
			return nil, err
		}
		existing.Email = email
	}
	return &existing, nil
}

// GetUser fetches a user by id, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id int64) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateUserField updates a single profile column for a user. It returns
// ErrNotFound when the user does not exist.
func UpdateUserField(ctx context.Context, db *gorm.DB, id int64, column string, value any) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteUser soft-deletes a user row. Per-user data (meals, goals, weights)
// is retained under the soft-deleted owner. The subject is rewritten first so
// the unique index does not block the same identity from signing up again.
func DeleteUser(ctx context.Context, db *gorm.DB, id int64) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.User{}).
			Where("id = ?", id).
			Update("subject", gorm.Expr("subject || '#deleted#' || id"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Delete(&domain.User{}, id).Error
	})
}

// IsNotFound reports whether err represents a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
