// Package domain defines the persistence models for users, meals, goals,
// subscriptions, and request accounting. These types are mapped with GORM
// and form the core data layer of the meal-tracking backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// User represents an account created on first successful sign-in through one
// of the federated identity providers. The provider's stable subject claim is
// the lookup key; email is best-effort and may be empty for private-relay
// identities.
//
// Fields:
//   - ID: autoincrement primary key, referenced by all per-user tables.
//   - Subject: opaque identifier issued by the identity provider (unique).
//   - Email: best-effort contact address provided by the issuer.
//   - Sex / BirthDate / HeightCM / Diet: optional profile attributes used as
//     context for nutrition inference.
//   - JoinedAt: date the account was first seen.
type User struct {
	ID        int64          `json:"id"         gorm:"primaryKey;autoIncrement"`
	Subject   string         `json:"-"          gorm:"type:varchar(255);not null;uniqueIndex:ux_user_subject"`
	Email     string         `json:"email"      gorm:"type:varchar(255);index"`
	Sex       string         `json:"sex,omitempty"        gorm:"type:char(1)"`
	BirthDate *time.Time     `json:"birth_date,omitempty"`
	HeightCM  int            `json:"height,omitempty"`
	Diet      string         `json:"diet,omitempty"       gorm:"type:varchar(70)"`
	JoinedAt  time.Time      `json:"joined_at"`
	CreatedAt time.Time      `json:"-"`
	UpdatedAt time.Time      `json:"-"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Meal represents a single logged meal with its vision-estimated (or, for barcode
// submissions, vendor-reported) nutrition facts.
//
// Fields:
//   - UserID: owner of the meal; indexed for day queries.
//   - Name: dish or product name.
//   - Barcode: EAN/UPC when the meal came from a product scan.
//   - ImageKey: object-store key of the submitted photo (empty for barcode
//     submissions without imagery).
//   - Kcal / Proteins / Carbs / Fats: estimated macros; -1 when the estimator
//     could not produce a value.
//   - HealthyIndex: coarse 0-10 healthiness score from the estimator.
//   - Latitude / Longitude: optional capture location.
//   - EatenAt: timestamp the meal was submitted; indexed for day grouping.
//   - Added: whether the user committed the meal to their journal.
type Meal struct {
	ID           int64          `json:"id"            gorm:"primaryKey;autoIncrement"`
	UserID       int64          `json:"user_id"       gorm:"not null;index:idx_meal_user"`
	Name         string         `json:"name"          gorm:"type:varchar(255);not null"`
	Barcode      string         `json:"bar_code,omitempty" gorm:"type:varchar(100)"`
	ImageKey     string         `json:"img_link"      gorm:"type:varchar(255)"`
	Kcal         int            `json:"kcal"`
	Proteins     int            `json:"proteins"`
	Carbs        int            `json:"carbs"`
	Fats         int            `json:"fats"`
	HealthyIndex int            `json:"healthy_index"`
	Latitude     *float64       `json:"latitude,omitempty"`
	Longitude    *float64       `json:"longitude,omitempty"`
	EatenAt      time.Time      `json:"date"          gorm:"not null;index:idx_meal_eaten_at"`
	Added        bool           `json:"added"`
	CreatedAt    time.Time      `json:"-"`
	UpdatedAt    time.Time      `json:"-"`
	DeletedAt    gorm.DeletedAt `json:"-"             gorm:"index"`

	// Warnings raised by the estimator for this meal (dietary conflicts,
	// excessive fat, and similar). Cascade-deleted with the meal.
	Warnings []MealWarning `json:"warnings,omitempty" gorm:"foreignKey:MealID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Meal.
func (Meal) TableName() string { return "meals" }

// MealWarning is a single estimator-raised concern attached to a meal.
type MealWarning struct {
	ID      int64  `json:"-"       gorm:"primaryKey;autoIncrement"`
	MealID  int64  `json:"-"       gorm:"not null;index"`
	Warning string `json:"warning" gorm:"type:text;not null"`
}

// TableName returns the database table name for MealWarning.
func (MealWarning) TableName() string { return "meal_warnings" }
