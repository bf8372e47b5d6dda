// Package services – MealService
//
// This file implements the MealService, which coordinates the full meal
// submission pipeline: request admission (quota + subscription state), photo
// storage, nutrition inference, and persistence of the meal with its
// warnings. Barcode submissions follow the same admission path but resolve
// macros from the product database instead of the vision model.
//
// Service-level errors (e.g., ErrMealNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/foodio/go-meal-backend/internal/domain"
	"github.com/foodio/go-meal-backend/internal/nutrition"
	"github.com/foodio/go-meal-backend/internal/repo"
	"github.com/foodio/go-meal-backend/internal/storage"
	"github.com/foodio/go-meal-backend/internal/subscription"
)

// maxContextProblems caps how many declared problems are fed to inference.
const maxContextProblems = 10

// presignTTLDefault is how long inference may read an uploaded photo.
const presignTTLDefault = 15 * time.Minute

// MealInput carries a photo submission. Receipt is the raw purchase receipt
// forwarded by the client, empty when none was sent.
type MealInput struct {
	Image       io.Reader
	ContentType string
	Receipt     string
	Latitude    *float64
	Longitude   *float64
	Language    language.Tag
}

// BarcodeInput carries a product-scan submission.
type BarcodeInput struct {
	Barcode  string
	Receipt  string
	Language language.Tag
}

// DayTotals aggregates the macros of one day's meals.
type DayTotals struct {
	Kcal     int `json:"kcal"`
	Proteins int `json:"proteins"`
	Carbs    int `json:"carbs"`
	Fats     int `json:"fats"`
}

// MealService provides meal-level operations: admitted photo and barcode
// submissions, listing with pagination, day grouping, and journal flags.
type MealService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Admission gates every submission; nil disables gating (tests only).
	Admission *subscription.Controller
	// Estimator produces macro estimates from photos.
	Estimator nutrition.MealEstimator
	// Products resolves barcodes.
	Products nutrition.ProductClient
	// Store holds uploaded photos.
	Store storage.ObjectStore

	// PresignTTL bounds read access to uploaded photos; zero uses a default.
	PresignTTL time.Duration
	// IdempotencyTTL is how long a recorded Idempotency-Key result can be
	// replayed; zero uses a default.
	IdempotencyTTL time.Duration
	// Now is injectable for tests; nil means time.Now.
	Now func() time.Time
}

func (s *MealService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *MealService) presignTTL() time.Duration {
	if s.PresignTTL > 0 {
		return s.PresignTTL
	}
	return presignTTLDefault
}

// admit decodes the receipt (when present) and runs the admission check. A
// denial is surfaced as *subscription.DeniedError so handlers can map it. On
// allow it returns the charged request-log row id, zero when admission is
// disabled.
func (s *MealService) admit(ctx context.Context, userID int64, rawReceipt, kind string) (int64, error) {
	var receiptID string
	if rawReceipt != "" {
		id, err := subscription.DecodeReceipt(rawReceipt)
		if err != nil {
			return 0, err
		}
		receiptID = id
	}
	if s.Admission == nil {
		return 0, nil
	}
	decision, err := s.Admission.Admit(ctx, userID, receiptID, kind)
	if err != nil {
		return 0, err
	}
	if !decision.Allowed {
		return 0, &subscription.DeniedError{Decision: decision}
	}
	return decision.RequestLogID, nil
}

// releaseAdmission refunds the quota row charged by admit when the pipeline
// fails before the meal is persisted. Best effort.
func (s *MealService) releaseAdmission(ctx context.Context, logID int64) {
	if s.Admission == nil || logID == 0 {
		return
	}
	_ = s.Admission.Release(ctx, logID)
}

// userContext assembles the inference conditioning for userID: declared
// problems plus the active goal's diet. Missing pieces degrade to empty.
func (s *MealService) userContext(ctx context.Context, userID int64, lang language.Tag) nutrition.UserContext {
	uc := nutrition.UserContext{Language: lang}

	if problems, err := repo.ListProblems(ctx, s.DB, userID, maxContextProblems); err == nil {
		for _, p := range problems {
			uc.Problems = append(uc.Problems, p.Description)
		}
	}
	if goal, err := repo.LatestGoal(ctx, s.DB, userID); err == nil {
		uc.Diet = goal.Diet
	} else if user, err := repo.GetUser(ctx, s.DB, userID); err == nil {
		uc.Diet = user.Diet
	}
	return uc
}

// AddMeal runs the photo pipeline: admission, photo upload, inference, and
// persistence. The returned meal carries its estimator warnings.
func (s *MealService) AddMeal(ctx context.Context, userID int64, in MealInput) (*domain.Meal, error) {
	if in.Image == nil {
		return nil, ErrEmptyImage
	}
	logID, err := s.admit(ctx, userID, in.Receipt, domain.RequestKindMeal)
	if err != nil {
		return nil, err
	}

	now := s.now()
	key := fmt.Sprintf("meals/%d/%s", userID, uuid.NewString())
	if err := s.Store.Put(ctx, key, in.ContentType, in.Image); err != nil {
		s.releaseAdmission(ctx, logID)
		return nil, err
	}
	imageURL, err := s.Store.PresignGet(ctx, key, s.presignTTL())
	if err != nil {
		s.releaseAdmission(ctx, logID)
		return nil, err
	}

	est, _, err := s.Estimator.EstimateMeal(ctx, imageURL, s.userContext(ctx, userID, in.Language))
	if err != nil {
		s.releaseAdmission(ctx, logID)
		return nil, err
	}

	meal := &domain.Meal{
		UserID:       userID,
		Name:         est.Name,
		ImageKey:     key,
		Kcal:         est.Kcal,
		Proteins:     est.Proteins,
		Carbs:        est.Carbs,
		Fats:         est.Fats,
		HealthyIndex: est.HealthyIndex,
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		EatenAt:      now,
	}
	for _, w := range est.Problems {
		meal.Warnings = append(meal.Warnings, domain.MealWarning{Warning: w})
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateMeal(ctx, tx, meal); err != nil {
			return err
		}
		if logID != 0 {
			return repo.SetRequestImageKey(ctx, tx, logID, key)
		}
		// Admission disabled: account the submission here instead.
		_, err := repo.AppendRequest(ctx, tx, userID, domain.RequestKindMeal, key, now)
		return err
	})
	if err != nil {
		s.releaseAdmission(ctx, logID)
		return nil, err
	}
	return meal, nil
}

// AddMealFromBarcode resolves a scanned product, asks the model for
// user-specific concerns, and logs the meal with vendor macros.
func (s *MealService) AddMealFromBarcode(ctx context.Context, userID int64, in BarcodeInput) (*domain.Meal, error) {
	logID, err := s.admit(ctx, userID, in.Receipt, domain.RequestKindBarcode)
	if err != nil {
		return nil, err
	}

	product, err := s.Products.Lookup(ctx, in.Barcode)
	if err != nil {
		s.releaseAdmission(ctx, logID)
		if errors.Is(err, nutrition.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	// Concerns are best-effort; a failed analysis still logs the meal.
	warnings, err := s.Estimator.AnalyzeProduct(ctx, product.Name, product.Ingredients, s.userContext(ctx, userID, in.Language))
	if err != nil {
		warnings = nil
	}

	now := s.now()
	meal := &domain.Meal{
		UserID:   userID,
		Name:     product.Name,
		Barcode:  in.Barcode,
		Kcal:     product.Kcal,
		Proteins: product.Proteins,
		Carbs:    product.Carbs,
		Fats:     product.Fats,
		EatenAt:  now,
	}
	for _, w := range warnings {
		meal.Warnings = append(meal.Warnings, domain.MealWarning{Warning: w})
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateMeal(ctx, tx, meal); err != nil {
			return err
		}
		if logID != 0 {
			return nil
		}
		// Admission disabled: account the submission here instead.
		_, err := repo.AppendRequest(ctx, tx, userID, domain.RequestKindBarcode, "", now)
		return err
	})
	if err != nil {
		s.releaseAdmission(ctx, logID)
		return nil, err
	}
	return meal, nil
}

// Get fetches one meal with its warnings, enforcing ownership.
func (s *MealService) Get(ctx context.Context, userID, mealID int64) (*domain.Meal, error) {
	meal, err := repo.GetMeal(ctx, s.DB, mealID, userID)
	if err != nil {
		if repo.IsNotFound(err) {
			return nil, ErrMealNotFound
		}
		return nil, err
	}
	return meal, nil
}

// ListPage returns a page of meals for a user, newest first.
// It applies defaults for invalid page/pageSize and returns total count.
func (s *MealService) ListPage(ctx context.Context, userID int64, page, pageSize int) ([]domain.Meal, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountMeals(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Meal{}, 0, nil
	}

	items, err := repo.ListMealsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

// ByDay returns the meals eaten on the UTC day containing t, with macro
// totals. Unknown (-1) macros are excluded from the sums.
func (s *MealService) ByDay(ctx context.Context, userID int64, t time.Time) ([]domain.Meal, DayTotals, error) {
	day := t.UTC()
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	meals, err := repo.ListMealsBetween(ctx, s.DB, userID, from, to)
	if err != nil {
		return nil, DayTotals{}, err
	}

	var totals DayTotals
	for _, m := range meals {
		totals.Kcal += max0(m.Kcal)
		totals.Proteins += max0(m.Proteins)
		totals.Carbs += max0(m.Carbs)
		totals.Fats += max0(m.Fats)
	}
	return meals, totals, nil
}

// SetAdded flips the journal flag on a meal the user owns.
func (s *MealService) SetAdded(ctx context.Context, userID, mealID int64, added bool) error {
	if err := repo.SetMealAdded(ctx, s.DB, mealID, userID, added); err != nil {
		if repo.IsNotFound(err) {
			return ErrMealNotFound
		}
		return err
	}
	return nil
}

// max0 clamps unknown (-1) macro values to zero for aggregation.
func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
