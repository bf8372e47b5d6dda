// Package services – GoalService
//
// This file implements the GoalService, which manages macro goals, declared
// problems, and weight entries. Goal creation is admission-gated like meal
// submissions (it consumes an inference call) and asks the model to compute a
// daily macro target from the user's profile and desired weight.
package services

import (
	"context"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/foodio/go-meal-backend/internal/domain"
	"github.com/foodio/go-meal-backend/internal/nutrition"
	"github.com/foodio/go-meal-backend/internal/repo"
	"github.com/foodio/go-meal-backend/internal/subscription"
)

// problemMaxLen mirrors the problems.description column size.
const problemMaxLen = 100

// GoalInput carries a goal-creation request.
type GoalInput struct {
	DesiredWeight float64
	Lifestyle     string
	Diet          string
	StartDate     time.Time
	EndDate       time.Time
	Receipt       string
}

// goalEditable whitelists the columns PATCH requests may touch.
var goalEditable = map[string]bool{
	"kcal":    true,
	"protein": true,
	"fats":    true,
	"carbs":   true,
}

// GoalService provides goal, problem, and weight operations.
type GoalService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Admission gates goal generation; nil disables gating (tests only).
	Admission *subscription.Controller
	// Estimator computes the macro targets.
	Estimator nutrition.MealEstimator

	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *GoalService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create computes and persists a new goal for userID. The model receives the
// user's profile attributes alongside the requested period and diet.
func (s *GoalService) Create(ctx context.Context, userID int64, in GoalInput) (*domain.Goal, error) {
	var receiptID string
	if in.Receipt != "" {
		id, err := subscription.DecodeReceipt(in.Receipt)
		if err != nil {
			return nil, err
		}
		receiptID = id
	}
	var logID int64
	if s.Admission != nil {
		decision, err := s.Admission.Admit(ctx, userID, receiptID, domain.RequestKindGoal)
		if err != nil {
			return nil, err
		}
		if !decision.Allowed {
			return nil, &subscription.DeniedError{Decision: decision}
		}
		logID = decision.RequestLogID
	}
	release := func() {
		if s.Admission != nil && logID != 0 {
			_ = s.Admission.Release(ctx, logID)
		}
	}

	user, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		release()
		if repo.IsNotFound(err) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	req := nutrition.GoalRequest{
		Sex:       user.Sex,
		HeightCM:  user.HeightCM,
		Lifestyle: in.Lifestyle,
		Diet:      in.Diet,
		StartDate: in.StartDate.Format("2006-01-02"),
		EndDate:   in.EndDate.Format("2006-01-02"),
	}
	if user.BirthDate != nil {
		req.BirthDate = user.BirthDate.Format("2006-01-02")
	}

	plan, err := s.Estimator.PlanGoal(ctx, req)
	if err != nil {
		release()
		return nil, err
	}

	goal := &domain.Goal{
		UserID:        userID,
		Kcal:          plan.Kcal,
		Protein:       plan.Protein,
		Fats:          plan.Fats,
		Carbs:         plan.Carbs,
		DesiredWeight: in.DesiredWeight,
		Lifestyle:     in.Lifestyle,
		Diet:          in.Diet,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateGoal(ctx, tx, goal); err != nil {
			return err
		}
		if logID != 0 {
			return nil
		}
		// Admission disabled: account the request here instead.
		_, err := repo.AppendRequest(ctx, tx, userID, domain.RequestKindGoal, "", s.now())
		return err
	})
	if err != nil {
		release()
		return nil, err
	}
	return goal, nil
}

// Latest returns the user's active goal.
func (s *GoalService) Latest(ctx context.Context, userID int64) (*domain.Goal, error) {
	goal, err := repo.LatestGoal(ctx, s.DB, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrGoalNotFound
		}
		return nil, err
	}
	return goal, nil
}

// UpdateField adjusts one macro column of the user's latest goal.
func (s *GoalService) UpdateField(ctx context.Context, userID int64, field string, value int) error {
	if !goalEditable[field] {
		return ErrInvalidField
	}
	goal, err := repo.LatestGoal(ctx, s.DB, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return ErrGoalNotFound
		}
		return err
	}
	return repo.UpdateGoalField(ctx, s.DB, goal.ID, userID, field, value)
}

// AddProblem records a new declared problem, enforcing the column size.
func (s *GoalService) AddProblem(ctx context.Context, userID int64, description string) (*domain.Problem, error) {
	if utf8.RuneCountInString(description) > problemMaxLen {
		return nil, ErrProblemTooLong
	}
	return repo.CreateProblem(ctx, s.DB, userID, description)
}

// ListProblems returns up to limit of the user's most recent problems.
func (s *GoalService) ListProblems(ctx context.Context, userID int64, limit int) ([]domain.Problem, error) {
	if limit <= 0 {
		limit = maxContextProblems
	}
	return repo.ListProblems(ctx, s.DB, userID, limit)
}

// UpdateProblem rewrites a problem's description, enforcing ownership.
func (s *GoalService) UpdateProblem(ctx context.Context, userID, id int64, description string) error {
	if utf8.RuneCountInString(description) > problemMaxLen {
		return ErrProblemTooLong
	}
	if err := repo.UpdateProblem(ctx, s.DB, id, userID, description); err != nil {
		if repo.IsNotFound(err) {
			return ErrProblemNotFound
		}
		return err
	}
	return nil
}

// DeleteProblem removes a problem, enforcing ownership.
func (s *GoalService) DeleteProblem(ctx context.Context, userID, id int64) error {
	if err := repo.DeleteProblem(ctx, s.DB, id, userID); err != nil {
		if repo.IsNotFound(err) {
			return ErrProblemNotFound
		}
		return err
	}
	return nil
}

// AddWeight records a body-weight measurement for the given date (or now).
func (s *GoalService) AddWeight(ctx context.Context, userID int64, weight float64, date time.Time) (*domain.WeightEntry, error) {
	if weight <= 0 {
		return nil, ErrInvalidWeight
	}
	if date.IsZero() {
		date = s.now()
	}
	return repo.AddWeight(ctx, s.DB, userID, weight, date)
}
