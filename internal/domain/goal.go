package domain

import (
	"time"

	"gorm.io/gorm"
)

// Goal is a dated macro target for a user. Goals are append-only; the latest
// by start date is the active one.
type Goal struct {
	ID            int64          `json:"id"             gorm:"primaryKey;autoIncrement"`
	UserID        int64          `json:"user_id"        gorm:"not null;index:idx_goal_user"`
	Kcal          int            `json:"kcal"           gorm:"not null"`
	Protein       int            `json:"protein"        gorm:"not null"`
	Fats          int            `json:"fats"           gorm:"not null"`
	Carbs         int            `json:"carbs"          gorm:"not null"`
	DesiredWeight float64        `json:"desired_weight"`
	Lifestyle     string         `json:"lifestyle"      gorm:"type:varchar(50)"`
	Diet          string         `json:"diet"           gorm:"type:varchar(70)"`
	StartDate     time.Time      `json:"start_date"     gorm:"not null"`
	EndDate       time.Time      `json:"end_date"       gorm:"not null"`
	CreatedAt     time.Time      `json:"-"`
	UpdatedAt     time.Time      `json:"-"`
	DeletedAt     gorm.DeletedAt `json:"-"              gorm:"index"`
}

// TableName returns the database table name for Goal.
func (Goal) TableName() string { return "goals" }

// Problem is a user-declared (or estimator-detected) dietary restriction or
// health concern, fed back into nutrition inference as context. Only a small
// cap of the most recent problems is used per request.
type Problem struct {
	ID          int64          `json:"id"          gorm:"primaryKey;autoIncrement"`
	UserID      int64          `json:"user_id"     gorm:"not null;index:idx_problem_user"`
	Description string         `json:"description" gorm:"type:varchar(100);not null"`
	CreatedAt   time.Time      `json:"-"`
	UpdatedAt   time.Time      `json:"-"`
	DeletedAt   gorm.DeletedAt `json:"-"           gorm:"index"`
}

// TableName returns the database table name for Problem.
func (Problem) TableName() string { return "problems" }

// WeightEntry is a dated body-weight measurement.
type WeightEntry struct {
	ID     int64     `json:"id"      gorm:"primaryKey;autoIncrement"`
	UserID int64     `json:"user_id" gorm:"not null;index:idx_weight_user"`
	Weight float64   `json:"weight"  gorm:"not null"`
	Date   time.Time `json:"date"    gorm:"not null;index:idx_weight_date"`
}

// TableName returns the database table name for WeightEntry.
func (WeightEntry) TableName() string { return "weights" }
